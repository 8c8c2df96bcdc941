// pkg/bridge/dockerfile.go

package bridge

import (
	"archive/tar"
	"bytes"
	"strings"
	"text/template"
	"time"

	cerr "github.com/cockroachdb/errors"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

var dockerfileTmpl = template.Must(template.New("Dockerfile").Funcs(template.FuncMap{"join": strings.Join}).Parse(`FROM {{ .BaseImage }}
LABEL org.kaiju.distro="{{ .Distro }}" org.kaiju.package-set="{{ .PackageSet }}"
ENV DEBIAN_FRONTEND=noninteractive LANG=C.UTF-8
RUN apt-get update \
 && apt-get install -y --no-install-recommends {{ join .Essentials " " }} \
 && curl -sSL {{ .KeyURL }} -o {{ .Keyring }} \
 && echo "deb [arch=$(dpkg --print-architecture) signed-by={{ .Keyring }}] {{ .Repo }} $(. /etc/os-release && echo $VERSION_CODENAME) main" > {{ .SourcesList }} \
 && apt-get update \
 && apt-get install -y --no-install-recommends {{ join .Packages " " }} \
 && rm -rf /var/lib/apt/lists/*
RUN echo "source {{ .Setup }}" >> /root/.bashrc
CMD ["sleep", "infinity"]
`))

// Dockerfile renders the image recipe: the same package groups a native
// install would get, installed at build time.
func Dockerfile(cc ContainerContext, essentials, packages []string) ([]byte, error) {
	var buf bytes.Buffer
	err := dockerfileTmpl.Execute(&buf, map[string]any{
		"BaseImage":   cc.BaseImage,
		"Distro":      cc.Distro,
		"PackageSet":  cc.PackageSet,
		"Essentials":  essentials,
		"Packages":    packages,
		"KeyURL":      shared.ROSKeyURL,
		"Keyring":     shared.ROSKeyringPath,
		"Repo":        shared.ROSAptRepo,
		"SourcesList": shared.ROSSourcesList,
		"Setup":       cc.SetupScript(),
	})
	if err != nil {
		return nil, cerr.Wrap(err, "render Dockerfile")
	}
	return buf.Bytes(), nil
}

// BuildContext packs a Dockerfile into the tar stream ImageBuild expects.
// The fixed mtime keeps the context byte-identical across runs.
func BuildContext(dockerfile []byte) (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    "Dockerfile",
		Mode:    0o644,
		Size:    int64(len(dockerfile)),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, cerr.Wrap(err, "write tar header")
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return nil, cerr.Wrap(err, "write Dockerfile to tar")
	}
	if err := tw.Close(); err != nil {
		return nil, cerr.Wrap(err, "close tar")
	}
	return bytes.NewReader(buf.Bytes()), nil
}

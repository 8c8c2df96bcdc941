// pkg/executor/dpkg.go

package executor

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
)

const dpkgQueryFormat = `${Package}\t${Status}\n`

// installed returns the installed packages matching names, which may be
// dpkg-query patterns. dpkg-query exits non-zero when a pattern matches
// nothing, so the output is parsed regardless of the error.
func (e *Executor) installed(ctx context.Context, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	res, _ := e.Runner.Run(ctx, execute.Command{
		Program: "dpkg-query",
		Args:    append([]string{"-W", "-f=" + dpkgQueryFormat}, names...),
		Timeout: 30 * time.Second,
	})
	return parseDpkgQuery(res.Output)
}

func parseDpkgQuery(output string) []string {
	seen := map[string]bool{}
	for _, line := range strings.Split(output, "\n") {
		name, status, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || !strings.HasSuffix(status, "ok installed") {
			continue
		}
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// missing returns the names that are not installed.
func (e *Executor) missing(ctx context.Context, names []string) []string {
	have := map[string]bool{}
	for _, n := range e.installed(ctx, names) {
		have[n] = true
	}
	var out []string
	for _, n := range names {
		if !have[n] {
			out = append(out, n)
		}
	}
	return out
}

func (e *Executor) allInstalled(ctx context.Context, names []string) bool {
	return len(names) > 0 && len(e.missing(ctx, names)) == 0
}

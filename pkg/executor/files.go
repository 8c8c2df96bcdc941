// pkg/executor/files.go

package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

const absentSuffix = ".absent"

func (e *Executor) exists(path string) bool {
	ok, err := afero.Exists(e.Fs, path)
	return err == nil && ok
}

func (e *Executor) allExist(paths []string) bool {
	for _, p := range paths {
		if !e.exists(p) {
			return false
		}
	}
	return true
}

func (e *Executor) writable(path string) bool {
	if e.Writable == nil {
		return true
	}
	return e.Writable(path)
}

// backupPath names the pristine copy of path for this session.
func (e *Executor) backupPath(path string) string {
	if e.SessionID == "" {
		return path + shared.BackupSuffix
	}
	return path + shared.BackupSuffix + "." + e.SessionID
}

// hasBackup reports whether any earlier run already copied path.
func (e *Executor) hasBackup(path string) bool {
	matches, err := afero.Glob(e.Fs, path+shared.BackupSuffix+"*")
	return err == nil && len(matches) > 0
}

// backedUp is true when every target has a copy, or a marker saying it
// did not exist when the first backup ran.
func (e *Executor) backedUp(paths []string) bool {
	for _, p := range paths {
		if !e.hasBackup(p) {
			return false
		}
	}
	return true
}

// backup copies each existing target once. The first copy is the pristine
// one and is never overwritten.
func (e *Executor) backup(ctx context.Context, paths []string, timeout time.Duration) error {
	logger := otelzap.Ctx(ctx)
	for _, src := range paths {
		if e.hasBackup(src) {
			continue
		}
		dst := e.backupPath(src)

		if !e.exists(src) {
			// record that the file did not exist before this run
			if err := e.touch(ctx, dst+absentSuffix, timeout); err != nil {
				return err
			}
			continue
		}

		if !e.writable(dst) {
			if _, err := e.Runner.Run(ctx, execute.Command{
				Program: "cp", Args: []string{"-p", src, dst}, Privileged: true, Timeout: timeout,
			}); err != nil {
				return err
			}
			logger.Info("Backed up file", zap.String("path", src), zap.String("backup", dst))
			continue
		}

		info, err := e.Fs.Stat(src)
		if err != nil {
			return kaiju_err.NewFatalError("cannot stat "+src, err)
		}
		data, err := afero.ReadFile(e.Fs, src)
		if err != nil {
			return kaiju_err.NewFatalError("cannot read "+src, err)
		}
		if err := afero.WriteFile(e.Fs, dst, data, info.Mode().Perm()); err != nil {
			return kaiju_err.NewFatalError("cannot write backup "+dst, err)
		}
		logger.Info("Backed up file", zap.String("path", src), zap.String("backup", dst))
	}
	return nil
}

func (e *Executor) touch(ctx context.Context, path string, timeout time.Duration) error {
	if !e.writable(path) {
		_, err := e.Runner.Run(ctx, execute.Command{
			Program: "touch", Args: []string{path}, Privileged: true, Timeout: timeout,
		})
		return err
	}
	if err := e.Fs.MkdirAll(filepath.Dir(path), shared.DirPermStandard); err != nil {
		return kaiju_err.NewFatalError("cannot create "+filepath.Dir(path), err)
	}
	if err := afero.WriteFile(e.Fs, path, nil, shared.FilePermStandard); err != nil {
		return kaiju_err.NewFatalError("cannot write "+path, err)
	}
	return nil
}

// marker is the line that identifies an appended block.
func marker(f planner.FileSpec) string {
	line, _, _ := strings.Cut(f.Content, "\n")
	return line
}

func (e *Executor) containsLine(path, line string) bool {
	file, err := e.Fs.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == line {
			return true
		}
	}
	return false
}

// appended is true when every append-once block is already present.
func (e *Executor) appended(files []planner.FileSpec) bool {
	for _, f := range files {
		if f.Append && !e.containsLine(f.Path, marker(f)) {
			return false
		}
	}
	return true
}

// appendOnce adds f.Content to the end of f.Path unless its marker line is
// already there.
func (e *Executor) appendOnce(ctx context.Context, f planner.FileSpec, timeout time.Duration) error {
	if e.containsLine(f.Path, marker(f)) {
		return nil
	}
	content := "\n" + f.Content

	if !e.writable(f.Path) {
		_, err := e.Runner.Run(ctx, execute.Command{
			Program: "tee", Args: []string{"-a", f.Path}, Stdin: content, Privileged: true, Timeout: timeout,
		})
		return err
	}

	file, err := e.Fs.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, f.Mode)
	if err != nil {
		return kaiju_err.NewFatalError("cannot open "+f.Path, err)
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		return kaiju_err.NewFatalError("cannot append to "+f.Path, err)
	}
	otelzap.Ctx(ctx).Info("Appended environment block", zap.String("path", f.Path))
	return nil
}

// filesMatch is true when every file exists with exactly the wanted content.
func (e *Executor) filesMatch(files []planner.FileSpec) bool {
	for _, f := range files {
		data, err := afero.ReadFile(e.Fs, f.Path)
		if err != nil || string(data) != f.Content {
			return false
		}
	}
	return true
}

// writeFile replaces f.Path with f.Content. Directories the process cannot
// write to are handled through sudo.
func (e *Executor) writeFile(ctx context.Context, f planner.FileSpec, timeout time.Duration) error {
	if !e.writable(f.Path) {
		_, err := e.Runner.Run(ctx, execute.Command{
			Program:    "install",
			Args:       []string{"-D", "-m", fmt.Sprintf("%04o", f.Mode.Perm()), "/dev/stdin", f.Path},
			Stdin:      f.Content,
			Privileged: true,
			Timeout:    timeout,
		})
		return err
	}

	if err := e.Fs.MkdirAll(filepath.Dir(f.Path), shared.DirPermStandard); err != nil {
		return kaiju_err.NewFatalError("cannot create "+filepath.Dir(f.Path), err)
	}
	if err := afero.WriteFile(e.Fs, f.Path, []byte(f.Content), f.Mode); err != nil {
		return kaiju_err.NewFatalError("cannot write "+f.Path, err)
	}
	if err := e.Fs.Chmod(f.Path, f.Mode); err != nil {
		return kaiju_err.NewFatalError("cannot chmod "+f.Path, err)
	}
	otelzap.Ctx(ctx).Info("Wrote file", zap.String("path", f.Path), zap.String("mode", f.Mode.String()))
	return nil
}

package executor

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/bridge"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/shared"
)

// fakeHost answers commands the way an Ubuntu host would, keeping just
// enough state (installed packages, files) for the idempotency checks.
type fakeHost struct {
	mu        sync.Mutex
	fs        afero.Fs
	installed map[string]bool
	rt        *bridge.FakeRuntime
	fail      func(c execute.Command) error
}

func newFakeHost() *fakeHost {
	return &fakeHost{fs: afero.NewMemMapFs(), installed: map[string]bool{}}
}

func (h *fakeHost) runner() *execute.FakeRunner {
	return &execute.FakeRunner{Respond: h.respond}
}

func (h *fakeHost) setFail(fn func(c execute.Command) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = fn
}

func (h *fakeHost) isInstalled(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed[name]
}

func (h *fakeHost) respond(_ int, c execute.Command) (execute.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fail != nil {
		if err := h.fail(c); err != nil {
			return execute.Result{Output: "E: " + err.Error()}, err
		}
	}

	switch c.Program {
	case "dpkg-query":
		var b strings.Builder
		names := make([]string, 0, len(h.installed))
		for n := range h.installed {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			for _, pattern := range c.Args[2:] {
				if ok, _ := path.Match(pattern, n); ok {
					fmt.Fprintf(&b, "%s\tinstall ok installed\n", n)
					break
				}
			}
		}
		return execute.Result{Output: b.String()}, nil

	case "apt-get":
		verb, pkgs := aptVerb(c.Args)
		switch verb {
		case "install":
			for _, p := range pkgs {
				h.installed[p] = true
				if parts := strings.SplitN(p, "-", 3); len(parts) == 3 && parts[0] == "ros" {
					_ = h.fs.MkdirAll(filepath.Join(shared.ROSInstallRoot, parts[1]), 0o755)
				}
			}
		case "autoremove":
			for _, p := range pkgs {
				delete(h.installed, p)
			}
		case "update":
			now := time.Now()
			_ = h.fs.MkdirAll(shared.AptListsDir, 0o755)
			_ = h.fs.Chtimes(shared.AptListsDir, now, now)
		}

	case "tee":
		target := c.Args[len(c.Args)-1]
		if c.Args[0] == "-a" {
			f, _ := h.fs.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			_, _ = f.WriteString(c.Stdin)
			_ = f.Close()
		} else {
			_ = afero.WriteFile(h.fs, target, []byte(c.Stdin), 0o644)
		}

	case "curl":
		for i, a := range c.Args {
			if a == "-o" && i+1 < len(c.Args) {
				_ = afero.WriteFile(h.fs, c.Args[i+1], []byte("key"), 0o644)
			}
		}

	case "rosdep":
		if c.Args[0] == "init" {
			_ = afero.WriteFile(h.fs, shared.RosdepDefaultList, []byte("yaml"), 0o644)
		}

	case "systemctl", "sh":
		if h.rt != nil {
			h.rt.SetDown(false)
		}
	}
	return execute.Result{Output: c.String() + "\n"}, nil
}

func aptVerb(args []string) (string, []string) {
	var verb string
	var pkgs []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-o":
			i++
		case strings.HasPrefix(args[i], "-"):
		case verb == "":
			verb = args[i]
		default:
			pkgs = append(pkgs, args[i])
		}
	}
	return verb, pkgs
}

func fastPolicy(attempts int, timeout time.Duration) retry.Policy {
	return retry.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Timeout: timeout}
}

func testExecutor(h *fakeHost, runner execute.Runner, jobs int) *Executor {
	e := New(runner, nil, jobs, 3)
	e.Fs = h.fs
	e.Policy = fastPolicy
	e.Writable = func(string) bool { return true }
	e.SessionID = "s1"
	if h.rt != nil {
		e.Runtime = h.rt
	}
	return e
}

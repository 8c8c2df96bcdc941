// pkg/report/report.go
//
// Human-readable output for every mode: configuration dump, host profile,
// plan preview and the final run summary. Nothing here mutates the host.

package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/config"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/executor"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/output"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/planner"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/sysinfo"
)

// Reporter writes reports to Out.
type Reporter struct {
	Out io.Writer
	st  styles
}

// New returns a reporter for out. Styling is on only when out is a terminal.
func New(out io.Writer) *Reporter {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Reporter{Out: out, st: newStyles(styled)}
}

func (r *Reporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.Out, format, args...)
}

func (r *Reporter) heading(title string) {
	r.printf("\n%s\n", r.st.title.Render(title))
}

// Warnings lists configuration warnings.
func (r *Reporter) Warnings(warnings []string) {
	for _, w := range warnings {
		r.printf("%s %s\n", r.st.warning.Render("warning:"), w)
	}
}

// Config prints the resolved configuration as YAML.
func (r *Reporter) Config(cfg config.Configuration) error {
	out, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = r.Out.Write(out)
	return err
}

// Profile prints the host snapshot and its classification.
func (r *Reporter) Profile(p sysinfo.Profile, a sysinfo.Assessment) {
	r.heading("System profile")
	osName := p.PrettyName
	if osName == "" {
		osName = strings.TrimSpace(string(p.OS) + " " + p.OSVersion)
	}
	runtime := "absent"
	switch {
	case p.Runtime.Available():
		runtime = "running"
	case p.Runtime.Installed:
		runtime = "installed, not running"
	}
	_ = output.KeyValueTable(r.Out, [][2]string{
		{"OS", osName},
		{"Architecture", p.Arch},
		{"Kernel", p.Kernel},
		{"CPU cores", fmt.Sprintf("%d", p.CPUCores)},
		{"Memory", fmt.Sprintf("%.1f GB", p.MemoryGB)},
		{"Free disk", fmt.Sprintf("%.1f GB", p.FreeDiskGB)},
		{"Network", yesNo(p.NetworkReachable)},
		{"Privilege", string(p.Privilege)},
		{"User", p.User},
		{"Container runtime", runtime},
	})

	verdict := r.st.success.Render(a.Class.String())
	if a.Class == sysinfo.Ineligible {
		verdict = r.st.failure.Render(a.Class.String())
	}
	r.printf("\nClassification: %s\n", verdict)
	for _, reason := range a.Reasons {
		r.printf("  - %s\n", reason)
	}
}

// Resources prints resource shortfalls and what the gate decided.
func (r *Reporter) Resources(issues []sysinfo.ResourceIssue, action sysinfo.GateAction) {
	if len(issues) == 0 {
		return
	}
	style := r.st.warning
	if action == sysinfo.GateBlock {
		style = r.st.failure
	}
	r.heading("Resource check")
	for _, i := range issues {
		r.printf("  %s %s\n", style.Render("!"), i)
	}
	switch action {
	case sysinfo.GateBlock:
		r.printf("  Blocking: use --allow-resource-override to install anyway.\n")
	case sysinfo.GateWarn:
		r.printf("  Continuing despite the shortfall.\n")
	}
}

// Plan prints the plan preview: the step table followed by each step's
// commands and files.
func (r *Reporter) Plan(plan planner.Plan) {
	r.heading(fmt.Sprintf("Installation plan: ROS 2 %s, %s, %s (%d steps)",
		plan.Distro, plan.PackageSet, plan.Class, len(plan.Steps)))
	if plan.Container != nil {
		r.printf("  Image %s, container %s, wrapper %s\n",
			plan.Container.Image, plan.Container.Name, plan.Container.WrapperPath)
	}

	t := output.NewTableTo(r.Out).WithIndent("  ").WithHeaders("#", "STEP", "KIND", "CHANGES HOST", "AFTER", "TIMEOUT")
	for i, s := range plan.Steps {
		after := strings.Join(s.DependsOn, ", ")
		if after == "" {
			after = "-"
		}
		t.AddRow(fmt.Sprintf("%d", i+1), s.ID, s.Kind.String(), changesHost(s.Kind), after, s.Timeout.String())
	}
	_ = t.Render()

	for i, s := range plan.Steps {
		r.printf("\n  %d. %s: %s\n", i+1, s.ID, s.Description)
		for _, c := range s.Commands {
			r.printf("     $ %s\n", c.String())
		}
		for _, f := range s.Files {
			verb := "write"
			if f.Append {
				verb = "append to"
			}
			r.printf("     %s %s (%s)\n", verb, f.Path, f.Mode)
		}
	}
}

// Summary is the short plan description shown before asking to proceed.
func Summary(plan planner.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "About to install ROS 2 %s (%s) as %s in %d steps:\n",
		plan.Distro, plan.PackageSet, plan.Class, len(plan.Steps))
	for i, s := range plan.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run prints the per-step outcome, elapsed time and the first failure.
func (r *Reporter) Run(rep *executor.RunReport) {
	r.heading("Run summary")
	t := output.NewTableTo(r.Out).WithIndent("  ").WithHeaders("STEP", "KIND", "ATTEMPTS", "DURATION", "STATUS")
	for _, res := range rep.Results() {
		t.AddRow(res.StepID, res.Kind.String(), fmt.Sprintf("%d", res.Attempts),
			res.Duration.Round(time.Millisecond).String(), r.st.status(res.Status))
	}
	_ = t.Render()

	counts := rep.Counts()
	r.printf("\n  %d succeeded, %d already satisfied, %d failed, %d not run in %s\n",
		counts[retry.StatusSucceeded], counts[retry.StatusSkipped],
		counts[retry.StatusFatal]+counts[retry.StatusExhausted], counts[retry.StatusNotRun],
		rep.Elapsed.Round(time.Millisecond))

	if f, ok := rep.FirstFailure(); ok {
		r.printf("\n%s %s (%s after %d attempt(s))\n", r.st.failure.Render("First failure:"), f.StepID, f.Status, f.Attempts)
		if f.Err != nil {
			r.printf("  %v\n", f.Err)
		}
		if f.Output != "" {
			r.printf("  output: %s\n", f.Output)
		}
		r.hints(f.Err)
	}
}

// Failure prints an error that stopped the run before or outside execution.
func (r *Reporter) Failure(err error) {
	if err == nil {
		return
	}
	r.printf("\n%s %v\n", r.st.failure.Render("Error:"), err)
	r.hints(err)
}

func (r *Reporter) hints(err error) {
	for _, h := range dedupe(kaiju_err.Hints(err)) {
		r.printf("  hint: %s\n", h)
	}
}

// Outcome prints the final verdict line.
func (r *Reporter) Outcome(code int, preview bool) {
	var msg string
	switch {
	case code == kaiju_err.ExitSuccess && preview:
		msg = r.st.success.Render("No blocking issues. Nothing was changed.")
	case code == kaiju_err.ExitSuccess:
		msg = r.st.success.Render("Installation complete.")
	case code == kaiju_err.ExitValidation:
		msg = r.st.failure.Render("Validation failed.")
	case code == kaiju_err.ExitConfig:
		msg = r.st.failure.Render("Configuration error.")
	default:
		msg = r.st.failure.Render("Installation failed. Re-running resumes from the first incomplete step.")
	}
	r.printf("\n%s (exit %d)\n", msg, code)
}

// ExitStatus derives the exit code of a real run: any failed or unfinished
// step is an execution failure.
func ExitStatus(rep *executor.RunReport) int {
	return rep.ExitCode()
}

func changesHost(k planner.StepKind) string {
	if k.Mutating() {
		return "yes"
	}
	return "no"
}

func yesNo(b bool) string {
	if b {
		return "reachable"
	}
	return "unreachable"
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

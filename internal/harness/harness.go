// Package harness runs each service as an independent unit: establish a session, navigate,
// stabilize, verify and capture. A service's failure or timeout never affects another's.
package harness

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/apicheck"
	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/evidence"
	"github.com/kuitang/stackcheck/internal/logutil"
	"github.com/kuitang/stackcheck/internal/metrics"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/session"
	"github.com/kuitang/stackcheck/internal/stabilize"
	"github.com/kuitang/stackcheck/internal/urlutil"
	"github.com/kuitang/stackcheck/internal/verify"
)

// Kind distinguishes browser runs from API checks.
type Kind string

const (
	KindUI  Kind = "ui"
	KindAPI Kind = "api"
)

// Result is the outcome of one service run or API check.
type Result struct {
	Name     string
	Kind     Kind
	Status   errs.Outcome
	Code     errs.Code // empty on pass
	Message  string    // outermost coded message, for the report
	Reason   string    // full error chain, for logs
	Evidence string // snapshot path, pass only
	Duration time.Duration
}

// Failed reports whether r fails the invocation.
func (r Result) Failed() bool {
	return r.Status == errs.Fail
}

// ContextFactory hands out isolated browsing contexts. *browser.Launcher satisfies it.
type ContextFactory interface {
	NewContext(ctx context.Context) (playwright.BrowserContext, error)
}

// Options bounds each run.
type Options struct {
	TestTimeout       time.Duration
	SlowTestTimeout   time.Duration // floor for services that declare their own timeout
	VisibilityTimeout time.Duration
}

// Deps are the collaborators of a Runner. Metrics may be nil.
type Deps struct {
	Registry    *registry.Registry
	Credentials config.Credentials
	Establisher *session.Establisher
	Waiter      *stabilize.Waiter
	Browsers    ContextFactory
	Evidence    *evidence.Store
	Checker     *apicheck.Checker
	Checks      []apicheck.Check
	Metrics     *metrics.Metrics
}

// Runner executes service runs and API checks.
type Runner struct {
	Deps
	opts Options
}

// New returns a runner.
func New(deps Deps, opts Options) *Runner {
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 30 * time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = session.DefaultOptions.VisibilityTimeout
	}
	if deps.Checks == nil {
		deps.Checks = apicheck.DefaultChecks()
	}
	return &Runner{Deps: deps, opts: opts}
}

// Timeout returns the overall bound for one run of svc.
func (r *Runner) Timeout(svc registry.Service) time.Duration {
	if svc.Timeout <= 0 {
		return r.opts.TestTimeout
	}
	if r.opts.SlowTestTimeout > svc.Timeout {
		return r.opts.SlowTestTimeout
	}
	return svc.Timeout
}

// Check returns the API check named name.
func (r *Runner) Check(name string) (apicheck.Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return apicheck.Check{}, false
}

// Plan splits names into services and API checks. No names selects everything.
// Unknown names are configuration errors.
func (r *Runner) Plan(names []string) ([]string, []apicheck.Check, error) {
	if len(names) == 0 {
		return r.Registry.Names(), r.Checks, nil
	}
	var services []string
	var checks []apicheck.Check
	for _, name := range names {
		if c, ok := r.Check(name); ok {
			checks = append(checks, c)
			continue
		}
		if _, err := r.Registry.Lookup(name); err != nil {
			return nil, nil, err
		}
		services = append(services, name)
	}
	return services, checks, nil
}

// RunAll runs the selected services then the selected checks, sequentially. Every unit
// runs regardless of earlier outcomes.
func (r *Runner) RunAll(ctx context.Context, names []string) ([]Result, error) {
	services, checks, err := r.Plan(names)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(services)+len(checks))
	for _, name := range services {
		results = append(results, r.RunUI(ctx, name))
	}
	for _, chk := range checks {
		results = append(results, r.RunCheck(ctx, chk))
	}
	r.recordRun(results)
	return results, nil
}

// RunUI runs the browser flow for the service called name.
func (r *Runner) RunUI(ctx context.Context, name string) Result {
	start := time.Now()
	ctx = obs.WithService(ctx, name)

	svc, err := r.Registry.Lookup(name)
	if err != nil {
		return r.finish(ctx, Result{Name: name, Kind: KindUI}, start, err)
	}
	err = r.runUI(ctx, svc)
	res := r.finish(ctx, Result{Name: name, Kind: KindUI}, start, err)
	if res.Status == errs.Pass {
		res.Evidence = r.Evidence.Path(name)
	} else if res.Status == errs.Fail {
		if rmErr := r.Evidence.Remove(context.WithoutCancel(ctx), name); rmErr != nil {
			obs.From(ctx).Warn("evidence_remove_failed", "err", rmErr)
		}
	}
	return res
}

func (r *Runner) runUI(parent context.Context, svc registry.Service) error {
	cred := r.Credentials.Lookup(svc.Credential.Set)
	if missing := cred.Missing(svc.Credential.Requires); len(missing) > 0 {
		return errs.New(errs.Skipped, fmt.Sprintf("%s not configured for %s", kindList(missing), svc.Credential.Set))
	}

	ctx, cancel := context.WithTimeout(parent, r.Timeout(svc))
	defer cancel()

	err := r.drive(ctx, svc, cred)
	if err != nil && ctx.Err() != nil && parent.Err() == nil {
		return errs.Wrap(errs.DeadlineExceeded, fmt.Sprintf("%s exceeded %s", svc.Name, r.Timeout(svc)), err)
	}
	return err
}

func (r *Runner) drive(ctx context.Context, svc registry.Service, cred config.Credential) error {
	logger := obs.From(ctx)

	strategy, err := r.Establisher.For(svc)
	if err != nil {
		return err
	}
	target := session.Target{Service: svc, BaseURL: r.Registry.Resolve(svc), Credential: cred}

	sess, err := strategy.Prepare(ctx, target)
	if err != nil {
		return err
	}

	bctx, err := r.Browsers.NewContext(ctx)
	if err != nil {
		return err
	}
	// Closing the context aborts any in-flight Playwright call when the deadline passes.
	stop := context.AfterFunc(ctx, func() { _ = bctx.Close() })
	defer func() {
		if stop() {
			_ = bctx.Close()
		}
	}()

	if err := sess.Apply(ctx, bctx); err != nil {
		return err
	}
	page, err := bctx.NewPage()
	if err != nil {
		return errs.Wrap(errs.Internal, "could not open page", err)
	}

	if err := strategy.Interact(ctx, page, target); err != nil {
		return err
	}

	landing := sess.URL(urlutil.BuildAbsolute(target.BaseURL, svc.Landing))
	logger.Info("navigate", "url", logutil.RedactURLString(landing))
	if _, err := page.Goto(landing, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return errs.Wrap(errs.Unavailable, "could not load "+svc.Landing, err)
	}

	if err := r.Waiter.Stabilize(ctx, page, svc.Stabilize); err != nil {
		return err
	}
	if err := verify.Page(ctx, page, svc.Verify, r.opts.VisibilityTimeout); err != nil {
		return err
	}

	png, err := evidence.Capture(page)
	if err != nil {
		return err
	}
	_, err = r.Evidence.Write(ctx, svc.Name, png)
	return err
}

// RunCheck runs one API check.
func (r *Runner) RunCheck(ctx context.Context, chk apicheck.Check) Result {
	start := time.Now()
	ctx = obs.WithCheck(obs.WithService(ctx, chk.Service), chk.Name)
	res := Result{Name: chk.Name, Kind: KindAPI}

	base, err := r.Registry.BaseURL(chk.Service)
	if err != nil {
		return r.finish(ctx, res, start, err)
	}
	runCtx, cancel := context.WithTimeout(ctx, r.opts.TestTimeout)
	defer cancel()
	err = r.Checker.Run(runCtx, chk, base, r.Credentials.Lookup(chk.CredentialSet))
	return r.finish(ctx, res, start, err)
}

func (r *Runner) finish(ctx context.Context, res Result, start time.Time, err error) Result {
	res.Duration = time.Since(start)
	res.Status = errs.Pass
	if err != nil {
		res.Code = errs.CodeOf(err)
		res.Status = errs.OutcomeOf(res.Code)
		res.Message = errs.MessageOf(err)
		res.Reason = err.Error()
	}

	logger := obs.From(ctx)
	switch res.Status {
	case errs.Pass:
		logger.Info("result", "status", res.Status, "dur_ms", res.Duration.Milliseconds())
	case errs.Skip:
		logger.Info("result", "status", res.Status, "reason", res.Reason)
	default:
		logger.Error("result", "status", res.Status, "code", res.Code, "reason", res.Reason, "dur_ms", res.Duration.Milliseconds())
	}

	if r.Metrics != nil {
		r.Metrics.RecordResult(res.Name, string(res.Kind), string(res.Status), res.Duration.Seconds())
	}
	return res
}

func (r *Runner) recordRun(results []Result) {
	if r.Metrics == nil {
		return
	}
	s := Summarize(results)
	r.Metrics.RecordRun(s.Failed, s.Skipped, float64(time.Now().Unix()))
}

// Summary counts results by status.
type Summary struct {
	Passed, Failed, Skipped int
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	var s Summary
	for _, res := range results {
		switch res.Status {
		case errs.Pass:
			s.Passed++
		case errs.Skip:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// WriteReport prints one line per result and a totals line.
func WriteReport(w io.Writer, results []Result) {
	for _, res := range results {
		line := fmt.Sprintf("%-4s  %-18s %-3s %6.1fs", res.Status, res.Name, res.Kind, res.Duration.Seconds())
		switch {
		case res.Evidence != "":
			line += "  " + res.Evidence
		case res.Code != "":
			line += "  " + string(res.Code) + ": " + res.Message
		}
		fmt.Fprintln(w, line)
	}
	s := Summarize(results)
	fmt.Fprintf(w, "%d passed, %d failed, %d skipped\n", s.Passed, s.Failed, s.Skipped)
}

func kindList(kinds []registry.CredentialKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

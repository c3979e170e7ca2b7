package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/kuitang/stackcheck/internal/apicheck"
	"github.com/kuitang/stackcheck/internal/browser"
	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/evidence"
	"github.com/kuitang/stackcheck/internal/harness"
	"github.com/kuitang/stackcheck/internal/metrics"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/ratelimit"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/s3client"
	"github.com/kuitang/stackcheck/internal/session"
	"github.com/kuitang/stackcheck/internal/stabilize"
)

// app holds everything one invocation wires together.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	runner   *harness.Runner
	launcher *browser.Launcher
	limiter  *ratelimit.RateLimiter
	metrics  *metrics.Metrics
}

func setupLogging(level string) {
	obs.Init()
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err == nil {
		obs.SetLevel(l)
	}
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Load(cfg.NASHost, cfg.ServicesFile)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	client := session.NewHTTPClient(limiter, cfg.InsecureTLS, m.InstrumentRoundTripper)

	var mirror evidence.Mirror
	if cfg.MirrorEnabled() {
		bucket, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.EvidenceBucket,
			Prefix:          cfg.EvidencePrefix,
			UsePathStyle:    cfg.AWSEndpointS3 != "",
		})
		if err != nil {
			limiter.Stop()
			return nil, err
		}
		mirror = bucket
		obs.From(ctx).Info("evidence_mirror_enabled", "bucket", bucket.BucketName())
	}

	launcher := browser.NewLauncher(browser.Options{
		Headless:          cfg.Headless,
		IgnoreHTTPSErrors: cfg.InsecureTLS,
		DefaultTimeout:    cfg.VisibilityTimeout,
	})

	runner := harness.New(harness.Deps{
		Registry:    reg,
		Credentials: cfg.Credentials,
		Establisher: session.NewEstablisher(client, session.Options{
			GateTimeout:       cfg.GateTimeout,
			VisibilityTimeout: cfg.VisibilityTimeout,
		}),
		Waiter:   stabilize.New(stabilize.Options{ImageTimeout: cfg.ImageTimeout}),
		Browsers: launcher,
		Evidence: evidence.NewStore(cfg.ScreenshotsDir, mirror),
		Checker:  apicheck.NewChecker(client),
		Metrics:  m,
	}, harness.Options{
		TestTimeout:       cfg.TestTimeout,
		SlowTestTimeout:   cfg.SlowTestTimeout,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})

	return &app{
		cfg:      cfg,
		registry: reg,
		runner:   runner,
		launcher: launcher,
		limiter:  limiter,
		metrics:  m,
	}, nil
}

// finish writes the metrics textfile, if configured, and releases the browser.
func (a *app) finish(ctx context.Context) {
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			obs.From(ctx).Warn("metrics_write_failed", "path", a.cfg.MetricsFile, "err", err)
		}
	}
	if err := a.launcher.Close(); err != nil {
		obs.From(ctx).Warn("browser_close_failed", "err", err)
	}
	a.limiter.Stop()
}

// writeServices prints each service's resolved address and whether it will run.
func writeServices(w io.Writer, reg *registry.Registry, creds config.Credentials) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tMECHANISM\tADDRESS\tSTATUS")
	for _, name := range reg.Names() {
		svc := reg.MustLookup(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, svc.Mechanism, reg.Resolve(svc), readiness(svc.Credential, creds))
	}
	for _, chk := range apicheck.DefaultChecks() {
		base, _ := reg.BaseURL(chk.Service)
		ref := registry.CredentialRef{Set: chk.CredentialSet, Requires: []registry.CredentialKind{registry.NeedAPIKey}}
		fmt.Fprintf(tw, "%s\tapi_check\t%s%s\t%s\n", chk.Name, base, chk.Path, readiness(ref, creds))
	}
	_ = tw.Flush()
}

func readiness(ref registry.CredentialRef, creds config.Credentials) string {
	missing := creds.Lookup(ref.Set).Missing(ref.Requires)
	if len(missing) == 0 {
		return "ready"
	}
	kinds := make([]string, len(missing))
	for i, k := range missing {
		kinds[i] = string(k)
	}
	return "skip (" + ref.Set + ": no " + strings.Join(kinds, ", ") + ")"
}

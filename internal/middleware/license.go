package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licensed/internal/errors"
	"licensed/internal/license"
	"licensed/internal/sessionpool"
	"licensed/pkg/contracts/domain"
)

// Resync is the narrow capability the gate calls when the license
// record looks stale. Per §9 DESIGN NOTES it is a function-valued
// collaborator, not a concrete dependency on the upstream issuer
// client, and it never unwinds: a failed resync is reported through
// its error return, not a panic.
type Resync func(ctx context.Context) error

// ReportTampering is the narrow capability the gate calls,
// fire-and-forget, when it detects clock skew. Like Resync it never
// unwinds.
type ReportTampering func(ctx context.Context, observedSkew time.Duration) error

// excludedPrefixes bypass the gate entirely: activation, the
// self-reporting validate-license probe, health, the status page, and
// the two network self-test endpoints (spec §4.E), matched
// case-insensitively. validate-license owns its own 200/403/404
// taxonomy (spec §6) and would never be reachable with it if the gate
// answered first.
var excludedPrefixes = []string{
	"/api/activate-license",
	"/api/validate-license",
	"/api/health",
	"/license/status",
	"/api/license/network-self-test",
	"/api/license/discovery-self-test",
}

// LicenseGate is the admission middleware (spec §4.E). It runs, in
// order, an allow-list bypass, a validity check, a staleness check
// (triggering Resync), a clock-skew check (triggering
// ReportTampering, fire-and-forget) and an expiry check.
type LicenseGate struct {
	store               *license.Store
	pool                *sessionpool.Pool
	logger              *slog.Logger
	stalenessThreshold  time.Duration
	skewThreshold       time.Duration
	resync              Resync
	reportTampering     ReportTampering
	tracer              trace.Tracer
	metrics             *GateMetrics

	mu          sync.Mutex
	lastResync  time.Time
	wg          sync.WaitGroup
	closed      bool
}

// GateMetrics holds the OpenTelemetry counters the gate records on
// every request, mirroring the teacher's MiddlewareMetrics shape.
type GateMetrics struct {
	RequestsTotal      metric.Int64Counter
	PassCount          metric.Int64Counter
	FailCount          metric.Int64Counter
	ResyncAttempts     metric.Int64Counter
	TamperReports      metric.Int64Counter
}

// NewGateMetrics builds a GateMetrics from the given meter, matching
// the teacher's own metric-registration pattern.
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	requestsTotal, err := meter.Int64Counter("license_gate_requests_total")
	if err != nil {
		return nil, err
	}
	passCount, err := meter.Int64Counter("license_gate_pass_total")
	if err != nil {
		return nil, err
	}
	failCount, err := meter.Int64Counter("license_gate_fail_total")
	if err != nil {
		return nil, err
	}
	resyncAttempts, err := meter.Int64Counter("license_gate_resync_attempts_total")
	if err != nil {
		return nil, err
	}
	tamperReports, err := meter.Int64Counter("license_gate_tamper_reports_total")
	if err != nil {
		return nil, err
	}
	return &GateMetrics{
		RequestsTotal:  requestsTotal,
		PassCount:      passCount,
		FailCount:      failCount,
		ResyncAttempts: resyncAttempts,
		TamperReports:  tamperReports,
	}, nil
}

// NewLicenseGate constructs a gate. resync and reportTampering may be
// nil in tests that don't exercise those branches.
func NewLicenseGate(store *license.Store, pool *sessionpool.Pool, stalenessThreshold, skewThreshold time.Duration, resync Resync, reportTampering ReportTampering, logger *slog.Logger, metrics *GateMetrics) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseGate{
		store:              store,
		pool:               pool,
		logger:             logger.With(slog.String("component", "license_gate")),
		stalenessThreshold: stalenessThreshold,
		skewThreshold:      skewThreshold,
		resync:             resync,
		reportTampering:    reportTampering,
		tracer:             otel.Tracer("licensed/middleware"),
		metrics:            metrics,
	}
}

// Handler wraps next with the admission gate.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := g.tracer.Start(r.Context(), "LicenseGate.Handler")
		defer span.End()

		if g.metrics != nil {
			g.metrics.RequestsTotal.Add(ctx, 1)
		}

		if isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if err := g.check(ctx); err != nil {
			g.fail(w, r, err)
			return
		}

		if g.metrics != nil {
			g.metrics.PassCount.Add(ctx, 1)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// check runs the four-condition gate in spec order: loaded+valid,
// staleness, clock skew, expiry.
func (g *LicenseGate) check(ctx context.Context) error {
	record := g.store.Current()
	if !record.IsValid() {
		return errors.ErrConfigMissing
	}

	if g.isStale() {
		if err := g.attemptResync(ctx); err != nil {
			return errors.ErrResyncFailed
		}
		record = g.store.Current()
	}

	if skew := g.clockSkew(record); skew >= g.skewThreshold {
		g.reportTamperingAsync(ctx, skew)
		return errors.ErrSkewDetected
	}

	if record.IsExpired(time.Now().Unix()) {
		return errors.ErrExpired
	}

	return nil
}

// isStale reports whether the time since the last successful resync
// (monotonic, process-local) exceeds the staleness threshold.
func (g *LicenseGate) isStale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastResync.IsZero() {
		return true
	}
	return time.Since(g.lastResync) >= g.stalenessThreshold
}

// attemptResync invokes the resync collaborator. A nil collaborator
// (tests that don't exercise this branch) is treated as success, since
// there's nothing to fail. A real failure is logged and returned so
// check can refuse admission with ErrResyncFailed, per spec §4.E step
// 2 ("on failure, respond 403 'please connect to the network'").
func (g *LicenseGate) attemptResync(ctx context.Context) error {
	if g.resync == nil {
		return nil
	}
	if g.metrics != nil {
		g.metrics.ResyncAttempts.Add(ctx, 1)
	}
	if err := g.resync(ctx); err != nil {
		g.logger.WarnContext(ctx, "resync failed", slog.String("error", err.Error()))
		return err
	}
	g.mu.Lock()
	g.lastResync = time.Now()
	g.mu.Unlock()
	return nil
}

// clockSkew compares the wall clock against the record's
// current_timestamp (set by the most recent resync) advanced by the
// monotonic time elapsed since that resync (Open Question decision
// (a) in DESIGN.md), so the comparand does not drift as time passes
// after a resync. Before any successful resync, current_timestamp is
// compared as it is.
func (g *LicenseGate) clockSkew(record domain.Record) time.Duration {
	expected := record.CurrentTimestamp
	g.mu.Lock()
	if !g.lastResync.IsZero() {
		expected += int64(time.Since(g.lastResync) / time.Second)
	}
	g.mu.Unlock()
	delta := time.Now().Unix() - expected
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta) * time.Second
}

// reportTamperingAsync fires the tamper report in a tracked
// goroutine, bounded to the gate's lifetime and awaited at Close, per
// §9 DESIGN NOTES ("bound fire-and-forget tasks to component
// lifetime, tracked and awaited at shutdown").
func (g *LicenseGate) reportTamperingAsync(ctx context.Context, skew time.Duration) {
	if g.reportTampering == nil {
		return
	}
	if g.metrics != nil {
		g.metrics.TamperReports.Add(ctx, 1)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.reportTampering(reportCtx, skew); err != nil {
			g.logger.Error("report_clock_tampering failed", slog.String("error", err.Error()))
		}
	}()
}

// Close waits for any in-flight tamper reports to finish and refuses
// to start new ones.
func (g *LicenseGate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *LicenseGate) fail(w http.ResponseWriter, r *http.Request, err error) {
	if g.metrics != nil {
		g.metrics.FailCount.Add(r.Context(), 1)
	}
	traceID := GetRequestID(r.Context())
	problem := errors.MapLicenseError(err, traceID)
	render.Status(r, problem.(*errors.ProblemDetails).Status)
	render.JSON(w, r, problem)
}

func isExcluded(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

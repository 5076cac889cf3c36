package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/configsvc"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/buildinfo"
	"github.com/cordum/extcore/core/infra/bus"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
	"github.com/cordum/extcore/core/loop"
	"github.com/cordum/extcore/core/mediator"
	"golang.org/x/time/rate"
)

const (
	resolveTimeout = 5 * time.Second
	resetBurst     = 5
)

var errResetThrottled = errors.New("capability reset throttled")

func runServeCmd(args []string) {
	fs := newFlagSet("serve")
	fs.ParseArgs(args)
	buildinfo.Log("extcorectl")

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extMetrics := metrics.NewProm("extcore")
	capMetrics := metrics.NewCapabilityProm("extcore")

	var extra []capabilities.Source
	if cfg.UseRedis {
		svc, err := configsvc.New(ctx, cfg.RedisURL)
		if err != nil {
			logging.Error("extcorectl", "redis capability source disabled", "err", err)
		} else {
			defer svc.Close()
			extra = append(extra, svc.Source(cfg.ContextID, cfg.UserID))
		}
	}

	opts := fs.options()
	opts.Metrics = extMetrics
	opts.CapMetrics = capMetrics
	opts.Extra = extra
	e, err := newEnv(ctx, opts)
	check(err)
	logging.Info("extcorectl", "manifest applied", "points", e.summary.Points, "links", e.summary.Links, "actions", e.summary.Actions)

	var c closers
	defer c.Close()
	m := mediator.New(ext.NewRegistry())
	check(serveWiring(ctx, m, e, cfg, opts.CapabilitiesPath, &c))
	app := m.NewApp(serveApp)
	rs := app.Mediate()
	logging.Info("extcorectl", "wired", "steps", strings.Join(rs.Executed(), ","))
	if err := rs.Errors(); err != nil {
		logging.Warn("extcorectl", "serving with partial wiring", "err", err)
	}
	l := appLoop(app)
	natsBus := appBus(app)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(natsBus.Status()))
	})
	mux.HandleFunc("/v1/has", hasHandler(e))
	mux.HandleFunc("/v1/resolve", resolveHandler(e, l, extMetrics))
	srv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.Info("extcorectl", "serving", "addr", cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("extcorectl", "http server error", "err", err)
	}
}

// resetHandler rebuilds the capability set for notices addressed to this
// process. Store failures and notice storms are retried later.
func resetHandler(ctx context.Context, e *env, cfg *config.Config) func(bus.ResetNotice) error {
	limiter := rate.NewLimiter(rate.Every(time.Second), resetBurst)
	return func(n bus.ResetNotice) error {
		if !n.Matches(cfg.ContextID, cfg.UserID) {
			return nil
		}
		if !limiter.Allow() {
			return bus.RetryAfter(errResetThrottled, time.Second)
		}
		logging.Info("extcorectl", "reset notice", "source", n.Source, "reason", n.Reason)
		if err := e.caps.Reset(ctx, e.sources...); err != nil {
			return bus.RetryAfter(err, time.Second)
		}
		return nil
	}
}

// hasHandler evaluates ?expr= against the live set. Request overrides from
// the "cap" query parameter or cookie are applied to a private copy.
func hasHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exprs := r.URL.Query()["expr"]
		set := e.caps
		if o := capabilities.OverridesFromRequest(r); len(o.Enable)+len(o.Disable) > 0 {
			set = capabilities.NewSet(nil)
			if err := set.Reset(r.Context(), append(append([]capabilities.Source{}, e.sources...), o)...); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, map[string]any{"expr": strings.Join(exprs, " "), "allowed": set.Has(exprs...)})
	}
}

// resolveHandler resolves ?point= for the ?cid= selection on the loop and
// waits for the final result.
func resolveHandler(e *env, l *loop.Loop, m metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := actions.NewResolver(actions.ResolverConfig{
			Points:  e.points,
			Actions: e.actions,
			Loop:    l,
			Point:   q.Get("point"),
			Metrics: m,
			Resets:  e.caps,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		done := make(chan actions.Resolved, 1)
		l.Post(func() {
			res.Once(actions.EventReady, func(out actions.Resolved) { done <- out })
			res.SetSelection(q["cid"])
		})
		defer l.Post(res.Close)

		ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
		defer cancel()
		select {
		case out := <-done:
			writeJSON(w, summarize(out))
		case <-ctx.Done():
			http.Error(w, "resolution timed out", http.StatusGatewayTimeout)
		}
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logging.Error("extcorectl", "write response", "err", err)
	}
}

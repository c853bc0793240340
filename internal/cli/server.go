package cli

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
}

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", cfg.ServerListen, "Listen address (host:port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := newRouter(a.svc, routerOptions{
		RateLimit:          cfg.RateLimit,
		TrustForwardHeader: cfg.RateLimitTrustForwardHeader,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		Ready:              a.store.Ping,
	})
	if err != nil {
		return err
	}

	sweeper, err := startSweeper(a.svc.Scratch, cfg.SweepSchedule, cfg.SweepMaxAge)
	if err != nil {
		return err
	}
	if sweeper != nil {
		defer func() { <-sweeper.Stop().Done() }()
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := notifyContext(ctx)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		utils.Info("audio server listen", "listen", *listen, "providers", a.svc.Synths.Names(), "scratch", a.svc.Scratch.Root)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startSweeper removes abandoned session directories on a cron schedule. An empty schedule
// disables it.
func startSweeper(m *scratch.Manager, schedule string, maxAge time.Duration) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		n, err := m.Sweep(maxAge, time.Now())
		if err != nil {
			utils.Warn("scratch sweep failed", "err", err)
			return
		}
		if n > 0 {
			utils.Info("scratch sweep", "removed", n, "max_age", maxAge.String())
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

type routerOptions struct {
	RateLimit          string
	TrustForwardHeader bool
	MaxBodyBytes       int64
	Ready              func(ctx context.Context) error
}

func newRouter(svc *pipeline.Service, opts routerOptions) (http.Handler, error) {
	h := &handlers{svc: svc, maxBody: opts.MaxBodyBytes}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/generate-audio-chunk", h.generateChunk)
	api.HandleFunc("POST /api/concatenate-audio-chunks", h.concatenate)
	api.HandleFunc("POST /api/generate-simple-audio", h.simpleAudio)
	api.HandleFunc("POST /api/generate-audio-comprehensive", h.comprehensive)
	api.HandleFunc("POST /api/upload-api-keys", h.uploadKeys)
	api.HandleFunc("GET /api/api-keys-status", h.keysStatus)

	limited, err := rateLimitMiddleware(opts.RateLimit, opts.TrustForwardHeader, api)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				utils.Warn("health check failed", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", limited)

	return httpLoggingMiddleware(mux), nil
}

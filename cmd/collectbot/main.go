package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rupeeline/collectbot/internal/config"
	"github.com/rupeeline/collectbot/internal/dialer"
	"github.com/rupeeline/collectbot/internal/engine"
	"github.com/rupeeline/collectbot/internal/httpapi"
	"github.com/rupeeline/collectbot/internal/nlu"
	"github.com/rupeeline/collectbot/internal/observability"
	"github.com/rupeeline/collectbot/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	classifier := nlu.NewOpenAIClassifier(nlu.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		PromptPath: cfg.ClassifierPromptPath,
		Timeout:    cfg.ClassifierTimeout,
	})
	analyzer := nlu.NewAnalyzer(classifier, func(source, reason string) {
		if reason != "" {
			metrics.RemoteFailures.WithLabelValues(reason).Inc()
		}
	})
	analyzer.SetLatencyObserver(metrics.ObserveRemoteLatency)

	eng := engine.New(st, analyzer, metrics)
	monitor := httpapi.NewMonitor()
	eng.SetTurnHook(monitor.Publish)

	api := httpapi.New(cfg, eng, st, metrics, monitor)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if cfg.DialerEnabled {
		d := dialer.New(st, eng, dialer.Options{
			Interval:        cfg.DialerInterval,
			BatchSize:       cfg.DialerBatchSize,
			CallingStart:    cfg.CallingHoursStart,
			CallingEnd:      cfg.CallingHoursEnd,
			MaxCallAttempts: cfg.MaxCallAttempts,
			Location:        cfg.Location(),
		})
		d.Start(runCtx)
		log.Printf("outbound dialer running every %s within %02d:00-%02d:00 %s",
			cfg.DialerInterval, cfg.CallingHoursStart, cfg.CallingHoursEnd, cfg.Timezone)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

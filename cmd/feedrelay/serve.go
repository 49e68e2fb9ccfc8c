package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/feedrelay/internal/config"
	"github.com/dgnsrekt/feedrelay/internal/notify"
	"github.com/dgnsrekt/feedrelay/internal/relay"
	"github.com/dgnsrekt/feedrelay/internal/server"
	"github.com/dgnsrekt/feedrelay/internal/source"
	"github.com/dgnsrekt/feedrelay/internal/sse"
	"github.com/dgnsrekt/feedrelay/internal/ws"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest the changefeed and serve subscribers",
		Long: `Connects to the change source, captures its initial snapshot, and relays
every row to websocket (/ws) and SSE (/events) subscribers. Late joiners get
the snapshot replayed before live rows.

Ingestion runs once. If the source ends or fails, the relay keeps serving the
frozen snapshot until it is restarted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&sourceFile, "source-file", "", "read rows from a file instead of the database (- for stdin)")

	return cmd
}

func relayOptions(c *config.Config) relay.Options {
	opts := relay.DefaultOptions()
	opts.Classifier = relay.ClassifierOptions{
		Mode:      c.Classifier.Mode,
		Threshold: c.Classifier.Threshold,
		Settle:    c.Classifier.Settle,
	}
	opts.Session = relay.SessionOptions{
		QueueSize:          c.Subscriber.QueueSize,
		PingPeriod:         c.Subscriber.PingPeriod,
		ReplayOnCompletion: c.Subscriber.ReplayOnCompletion,
	}
	return opts
}

// buildSource returns the configured change source and a closer releasing it.
func buildSource(c *config.SourceConfig) (relay.Source, io.Closer, error) {
	switch c.Kind {
	case config.SourceFile:
		src, closer, err := source.OpenFile(c.File)
		if err != nil {
			return nil, nil, err
		}
		return src, closer, nil
	default:
		src := source.NewPostgresSource(source.PostgresConfig{
			Host:           c.Host,
			Port:           c.Port,
			Database:       c.Database,
			User:           c.User,
			Password:       c.Password,
			SSLMode:        c.SSLMode,
			ConnectTimeout: c.ConnectTimeout,
			Query:          c.Query,
		}, logger)
		return src, io.NopCloser(nil), nil
	}
}

func runServe(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("listen", cfg.Listen.Addr()),
		zap.String("source", cfg.Source.Kind),
		zap.String("classifier", cfg.Classifier.Mode),
		zap.Int("threshold", cfg.Classifier.Threshold),
		zap.Duration("settle", cfg.Classifier.Settle),
		zap.Int("queueSize", cfg.Subscriber.QueueSize),
		zap.Bool("replayOnCompletion", cfg.Subscriber.ReplayOnCompletion),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rl, err := relay.New(relayOptions(cfg), logger, reg)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	src, closeSource, err := buildSource(&cfg.Source)
	if err != nil {
		return err
	}
	defer closeSource.Close()

	srv, err := server.NewServer(rl, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	routes := server.Routes{
		WebSocket: ws.NewHandler(rl, ws.Options{
			WriteWait:      cfg.Subscriber.WriteWait,
			PongWait:       cfg.Subscriber.PongWait,
			MaxMessageSize: cfg.Subscriber.MaxMessageSize,
		}, logger),
		Events:  sse.NewHandler(rl, logger),
		Limiter: server.NewLimiter(cfg.Subscriber.AcceptRate, cfg.Subscriber.AcceptBurst),
	}
	if cfg.Listen.MetricsEnabled {
		routes.Gatherer = reg
	}

	notifier := notify.New(&cfg.Notify, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Sessions inherit gctx, so shutdown also ends hijacked websocket connections.
	httpServer := &http.Server{
		Addr:              cfg.Listen.Addr(),
		Handler:           server.NewRouter(srv, routes, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	started := time.Now()

	// Ingestion failures stop live updates but never the process.
	g.Go(func() error {
		err := rl.Ingest(gctx, src)
		if gctx.Err() != nil {
			return nil
		}
		if err == nil {
			logger.Warn("change source ended, serving frozen snapshot")
		}

		status := rl.Status()
		report := notify.IngestReport{
			SnapshotRows:     status.SnapshotRows,
			SnapshotComplete: status.SnapshotComplete,
			Subscribers:      status.Subscribers,
			Err:              err,
		}
		if nerr := notifier.IngestStopped(gctx, report); nerr != nil {
			logger.Warn("ingest notification failed", zap.Error(nerr))
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-rl.SnapshotDone():
		case <-gctx.Done():
			return nil
		}
		rows, _ := rl.Snapshot()
		elapsed := time.Since(started)
		logger.Info("snapshot ready", zap.Int("rows", len(rows)), zap.Duration("elapsed", elapsed))
		if err := notifier.SnapshotReady(gctx, len(rows), elapsed); err != nil {
			logger.Warn("snapshot notification failed", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Listen.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

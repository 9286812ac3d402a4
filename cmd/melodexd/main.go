// Command melodexd runs the entity indexing core: it reads pre-decoded
// blocks as newline-delimited JSON on stdin, applies them through the
// dispatcher, and reports changed keys for downstream invalidation.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"melodex/config"
	"melodex/core/dispatch"
	"melodex/core/events"
	"melodex/core/types"
	"melodex/native/contest"
	"melodex/native/delegation"
	"melodex/native/devapp"
	"melodex/native/email"
	"melodex/native/playlist"
	"melodex/native/replicaset"
	"melodex/native/social"
	"melodex/observability"
	"melodex/observability/logging"
	"melodex/observability/otel"
	"melodex/registry"
	"melodex/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("melodexd", cfg.Environment, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TelemetryEndpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "melodexd",
			Environment: cfg.Environment,
			Endpoint:    cfg.TelemetryEndpoint,
			Insecure:    cfg.TelemetryInsecure,
			Traces:      true,
			Metrics:     true,
		})
		if err != nil {
			logger.Error("telemetry init failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("err", err))
			}
		}()
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("open storage", slog.Any("err", err))
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewEngineMetrics(promReg)
	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, promReg, logger)
	}

	nodes := registry.NewCache(registry.NewHTTPClient(cfg.RegistryEndpoint), cfg.CacheTTL(), logger)

	handlers := dispatch.NewRegistry()
	playlist.Register(handlers)
	social.Register(handlers)
	devapp.Register(handlers)
	delegation.Register(handlers)
	replicaset.Register(handlers)
	contest.Register(handlers)
	email.Register(handlers)

	dispatcher := dispatch.New(dispatch.Config{
		Store:    store,
		Registry: handlers,
		Sink:     logSink{logger: logger},
		Nodes:    nodes,
		Logger:   logger,
		Metrics:  metrics,
	})

	if err := run(ctx, dispatcher, logger); err != nil {
		logger.Error("indexing stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

// run consumes newline-delimited JSON blocks from stdin until EOF or
// cancellation. Blocks must arrive in increasing number order; repeating the
// last block is re-applied idempotently, anything older is skipped so a
// stale replay can never demote newer state.
func run(ctx context.Context, dispatcher *dispatch.Dispatcher, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)

	var lastNumber uint64
	var seen bool
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var blk types.Block
		if err := json.Unmarshal(line, &blk); err != nil {
			return fmt.Errorf("decode block: %w", err)
		}
		if seen && blk.Number < lastNumber {
			logger.Warn("skipping block below last committed number",
				slog.Uint64("block", blk.Number),
				slog.Uint64("last", lastNumber))
			continue
		}
		if seen && blk.Number == lastNumber {
			logger.Warn("re-applying last committed block",
				slog.Uint64("block", blk.Number))
		}

		res, err := dispatcher.ApplyBlock(ctx, &blk)
		if err != nil {
			return err
		}
		lastNumber, seen = blk.Number, true

		out, _ := json.Marshal(map[string]any{
			"block":        res.BlockNumber,
			"mutations":    res.Mutations,
			"changed_keys": res.ChangedKeys,
		})
		fmt.Println(string(out))
	}
	return scanner.Err()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", slog.Any("err", err))
	}
}

// logSink surfaces side-effect events on the log stream; the reward and
// challenge subsystem consumes them out of process.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Dispatch(ev events.Event) {
	s.logger.Info("side effect",
		slog.String("id", ev.ID.String()),
		slog.String("type", ev.Type),
		slog.Uint64("block", ev.BlockNumber),
		slog.Uint64("user", ev.UserID),
		slog.Any("payload", ev.Payload))
}

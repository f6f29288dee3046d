package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meshdrone/pkg/config"
	"meshdrone/pkg/observability"
	"meshdrone/pkg/protocol"
	"meshdrone/pkg/sim"
	"meshdrone/pkg/trace"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	runID := uuid.NewString()
	zap.L().Info("meshsim started", zap.String("app", cfg.AppName), zap.String("run_id", runID))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	simOpts := sim.Options{Logger: logger, RunID: runID}
	if cfg.Trace.Enable {
		format, err := protocol.ParseFormat(cfg.Trace.Format)
		if err != nil {
			zap.L().Error("bad trace format", zap.Error(err))
			return 1
		}
		rec, err := trace.Create(cfg.Trace.Path, format, runID)
		if err != nil {
			zap.L().Error("failed to open trace", zap.Error(err))
			return 1
		}
		defer func() {
			if err := rec.Close(); err != nil {
				zap.L().Warn("trace close", zap.Error(err))
			}
			zap.L().Info("trace written", zap.String("path", cfg.Trace.Path), zap.Uint64("records", rec.Count()))
		}()
		simOpts.Events = rec
	}

	network, err := sim.New(cfg.Sim, simOpts)
	if err != nil {
		zap.L().Error("failed to build network", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := network.Start(ctx); err != nil {
		zap.L().Error("failed to start network", zap.Error(err))
		return 1
	}
	code := drive(ctx, network, opts)
	if err := network.Stop(); err != nil {
		zap.L().Error("stop", zap.Error(err))
		code = 1
	}
	fmt.Printf("events: %v\n", network.Stats())
	return code
}

// drive runs discovery from every client, applies crashes and sends the
// test message.
func drive(ctx context.Context, net *sim.Network, opts Options) int {
	clients := net.Clients()
	for _, id := range clients {
		paths, err := net.Discover(ctx, id, opts.Settle)
		if err != nil {
			zap.L().Error("discovery failed", zap.Uint8("client", id), zap.Error(err))
			return 1
		}
		for _, p := range paths {
			fmt.Printf("client %d path %v\n", id, protocol.TraceIDs(p))
		}
	}

	for _, id := range opts.Crash {
		if err := net.Crash(id); err != nil {
			zap.L().Error("crash failed", zap.Uint8("node", id), zap.Error(err))
			return 1
		}
	}

	if opts.Message == "" || len(clients) < 2 {
		return 0
	}
	from, to := clients[0], clients[len(clients)-1]
	if opts.From != 0 {
		from = protocol.NodeID(opts.From)
	}
	if opts.To != 0 {
		to = protocol.NodeID(opts.To)
	}
	rep, err := net.SendMessage(ctx, from, to, []byte(opts.Message))
	fmt.Printf("message %d -> %d: route %v, %d/%d acked, %d resent, %d reroutes\n",
		from, to, rep.Route, rep.Acked, rep.Fragments, rep.Resent, rep.Reroutes)
	if err != nil {
		zap.L().Error("message failed", zap.Error(err))
		return 1
	}
	if c, err := net.Client(to); err == nil {
		select {
		case m := <-c.Messages():
			fmt.Printf("client %d received %q from %d\n", to, m.Data, m.From)
		case <-ctx.Done():
		}
	}
	return 0
}

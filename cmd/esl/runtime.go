// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/esl"
	"github.com/creachadair/esl/config"
	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/esl/observe"
	"github.com/creachadair/esl/session"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 5 * time.Second

// runtime holds the process-wide state shared by the subcommands.
type runtime struct {
	cfg *config.Config
	log zerolog.Logger
	reg *prometheus.Registry
	tp  trace.TracerProvider
	obs esl.Observer

	closers []func(context.Context) error
}

// setup loads the configuration with the global flags applied, and starts
// the observability facilities it names. The caller must call close when
// done. The returned context ends on interrupt.
func setup(env *command.Env) (context.Context, *runtime, error) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, nil, err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.LogPretty {
		cfg.Log.Pretty = true
	}
	if flags.Metrics != "" {
		cfg.Metrics.Listen = flags.Metrics
	}
	if flags.TraceEndpoint != "" {
		cfg.Tracing.Endpoint = flags.TraceEndpoint
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	rt := &runtime{
		cfg: cfg,
		log: log,
		reg: prometheus.NewRegistry(),
		tp:  noop.NewTracerProvider(),
	}
	rt.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	rt.closers = append(rt.closers, func(context.Context) error { cancel(); return nil })

	obs := []esl.Observer{observe.NewMetrics(rt.reg), observe.NewLog(&rt.log)}
	if ep := cfg.Tracing.Endpoint; ep != "" {
		tp, err := observe.NewTracerProvider(ctx, observe.TraceConfig{
			Endpoint: ep,
			Insecure: cfg.Tracing.Insecure,
		})
		if err != nil {
			rt.close()
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		rt.tp = tp
		rt.closers = append(rt.closers, tp.Shutdown)
		obs = append(obs, observe.NewTracing(tp))
		rt.log.Info().Str("endpoint", ep).Msg("exporting traces")
	}
	rt.obs = esl.Observers(obs...)

	if addr := cfg.Metrics.Listen; addr != "" {
		if err := rt.serveMetrics(addr); err != nil {
			rt.close()
			return nil, nil, err
		}
	}
	return ctx, rt, nil
}

// serveMetrics starts an HTTP server for metrics at addr.
func (rt *runtime) serveMetrics(addr string) error {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:           metricsHandler(rt.reg, rt.tp),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := taskgroup.Go(func() error {
		if err := srv.Serve(lst); !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error().Err(err).Msg("metrics server failed")
			return err
		}
		return nil
	})
	rt.closers = append(rt.closers, func(ctx context.Context) error {
		return errors.Join(srv.Shutdown(ctx), done.Wait())
	})
	rt.log.Info().Str("addr", lst.Addr().String()).Msg("serving metrics")
	return nil
}

// close releases the resources held by rt, in reverse order of acquisition.
func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, f := range slices.Backward(rt.closers) {
		errs = append(errs, f(ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// connOptions returns the options for each connection opened by rt.
func (rt *runtime) connOptions() *esl.Options {
	return &esl.Options{
		Logger:        &rt.log,
		Observer:      rt.obs,
		LingerTimeout: rt.cfg.Server.LingerTimeout,
	}
}

// dial connects and authenticates to the configured switch.
func (rt *runtime) dial(ctx context.Context) (*esl.Conn, error) {
	return session.Dial(ctx, rt.cfg.ESL.Addr, &session.DialOptions{
		Password:         rt.cfg.ESL.Password,
		HandshakeTimeout: rt.cfg.ESL.DialTimeout,
		Conn:             rt.connOptions(),
	})
}

// withConn runs f with a connection to the configured switch, and cleans up
// when it returns.
func withConn(env *command.Env, f func(context.Context, *runtime, *esl.Conn) error) (err error) {
	ctx, rt, err := setup(env)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	c, err := rt.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", rt.cfg.ESL.Addr, err)
	}
	defer c.Stop()
	return f(ctx, rt, c)
}

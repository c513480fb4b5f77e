package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sangoma/labcoord/locker"
	"github.com/sangoma/labcoord/metrics"
)

var (
	cmdLock = &cobra.Command{
		Use:   "lock <resource>...",
		Short: "Acquire resources and hold them until interrupted",
		Args:  cobra.MinimumNArgs(1),
		Run:   runLock,
	}
	cmdStatus = &cobra.Command{
		Use:   "status <resource>...",
		Short: "Show who currently holds the given resources",
		Args:  cobra.MinimumNArgs(1),
		Run:   runStatus,
	}

	waitTimeout time.Duration
	metricsAddr string
	traceStdout bool
)

func init() {
	cmdLock.Flags().DurationVar(&waitTimeout, "timeout", 0, "Bound the wait on a contended resource (default: record TTL)")
	cmdLock.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while holding locks")
	cmdLock.Flags().BoolVar(&traceStdout, "trace", false, "Emit OpenTelemetry spans to stdout")
	cmdMain.AddCommand(cmdLock)
	cmdMain.AddCommand(cmdStatus)
}

func runLock(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	mgrOpts := []locker.Option{
		locker.WithLogger(log),
		locker.WithUser(lockUser),
		locker.WithTTL(lockTTL),
	}
	if traceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			Exitf("Trace exporter setup failed: %v", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(ctx) }()
		otel.SetTracerProvider(tp)
		mgrOpts = append(mgrOpts, locker.WithTracing())
	}

	st := connectStore(ctx)
	defer st.Close()
	m := locker.New(st, mgrOpts...)

	var acquireOpts []locker.AcquireOption
	if waitTimeout > 0 {
		acquireOpts = append(acquireOpts, locker.WithWaitTimeout(waitTimeout))
	}
	for _, name := range args {
		key, holder, err := m.Acquire(ctx, name, acquireOpts...)
		if err != nil {
			var lockedErr *locker.ResourceLockedError
			if errors.As(err, &lockedErr) {
				_ = m.ReleaseAll(ctx)
				Exitf("%s is currently locked by %s", name, lockedErr.Holder)
			}
			_ = m.ReleaseAll(ctx)
			Exitf("Acquire %s failed: %v", name, err)
		}
		log.Info().Str("key", key).Str("holder", holder).Msg("acquired")
	}

	if metricsAddr != "" {
		reg := metrics.NewRegistry()
		metrics.RegisterLockMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	log.Info().Strs("resources", m.Held()).Msg("holding locks, interrupt to release")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := m.ReleaseAll(context.Background()); err != nil {
		Exitf("Release failed: %v", err)
	}
	log.Info().Msg("released all locks")
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	st := connectStore(ctx)
	defer st.Close()

	for _, name := range args {
		rec, ok, err := st.Read(ctx, locker.Key(name))
		if err != nil {
			Exitf("Read %s failed: %v", name, err)
		}
		if !ok {
			cmd.Printf("%s: free\n", name)
			continue
		}
		cmd.Printf("%s: locked by %s (expires in %s)\n", name, rec.Holder, rec.TTL.Round(time.Second))
	}
}

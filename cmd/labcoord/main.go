// Package main provides the labcoord command line tool: lock and inspect
// shared lab resources and maintain environment to host mappings.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sangoma/labcoord/discovery"
	"github.com/sangoma/labcoord/store"
)

const (
	defaultTTL  = 30 * time.Second
	defaultPoll = 500 * time.Millisecond
)

var (
	cmdMain = &cobra.Command{
		Use:   "labcoord",
		Short: "Coordinate exclusive access to shared lab resources",
		Long: "Coordinate exclusive access to shared lab resources through a\n" +
			"TTL-lock on the coordination store, discovered via DNS SRV records.",
	}

	log zerolog.Logger

	discoverySrv string
	serviceLabel string
	lockUser     string
	lockTTL      time.Duration
	debug        bool
)

func init() {
	pf := cmdMain.PersistentFlags()
	pf.StringVar(&discoverySrv, "discovery-srv", "", "DNS domain whose SRV records locate the coordination store")
	pf.StringVar(&serviceLabel, "service", discovery.DefaultService, "SRV service label of the coordination store")
	pf.StringVar(&lockUser, "user", "", "User component of the holder identity (default $USER)")
	pf.DurationVar(&lockTTL, "ttl", defaultTTL, "Lock record TTL")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Timestamp().
		Logger()
	cobra.OnInitialize(func() {
		if !debug {
			log = log.Level(zerolog.InfoLevel)
		}
	})

	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}

// connectStore discovers and connects the coordination store, exiting with
// a message when it cannot.
func connectStore(ctx context.Context) *store.Redis {
	if discoverySrv == "" {
		Exitf("Please specify --discovery-srv")
	}
	resolver, err := discovery.NewResolver(discovery.WithService(serviceLabel))
	if err != nil {
		Exitf("Resolver setup failed: %v", err)
	}
	st, err := store.Connect(ctx, discoverySrv, store.WithResolver(resolver))
	if err != nil {
		Exitf("Cannot reach coordination store for %s: %v", discoverySrv, err)
	}
	return st
}

func Exitf(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format = format + "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

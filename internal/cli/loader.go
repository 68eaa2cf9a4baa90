package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworld/canonry/internal/gate"
	"github.com/loomworld/canonry/internal/metrics"
	"github.com/loomworld/canonry/internal/reconstruct"
	"github.com/loomworld/canonry/internal/rules"
	"github.com/loomworld/canonry/internal/snapshot"
	"github.com/loomworld/canonry/internal/store"
)

// env bundles the subsystems a command operates on, wired over one open
// database. The logical clock resumes from the ledger's highest seq so
// new records always order after existing ones.
type env struct {
	store *store.Store
	rules *rules.Ruleset
	gate  *gate.Gate
	rec   *reconstruct.Reconstructor
	snaps *snapshot.Manager

	// metricsAddr is the bound listen address when --metrics-addr is set,
	// "" otherwise.
	metricsAddr string
}

// openEnv opens the database named by --db and wires the engine around it.
// The caller must call close when done.
func openEnv(ctx context.Context, opts *RootOptions) (*env, func(), error) {
	if opts.DB == "" {
		return nil, nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(opts.DB); os.IsNotExist(err) {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DB))
	}
	return openEnvCreating(ctx, opts)
}

// openEnvCreating is openEnv without the existence check; submit uses it
// so the first proposal can create the database.
func openEnvCreating(ctx context.Context, opts *RootOptions) (*env, func(), error) {
	if opts.DB == "" {
		return nil, nil, NewExitError(ExitCommandError, "--db is required")
	}

	rs := rules.Default()
	if opts.Rules != "" {
		var err error
		rs, err = rules.LoadFile(opts.Rules)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "compile ruleset", err)
		}
	}

	s, err := store.Open(opts.DB)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open database", err)
	}

	maxSeq, err := s.MaxSeq(ctx)
	if err != nil {
		s.Close()
		return nil, nil, WrapExitError(ExitCommandError, "read ledger clock", err)
	}
	clock := gate.NewClockAt(maxSeq)
	tokens := gate.UUIDv7Generator{}

	var recorder metrics.Recorder = metrics.Noop{}
	var metricsSrv *http.Server
	metricsAddr := ""
	if opts.MetricsAddr != "" {
		collector := metrics.NewCollector()
		recorder = collector

		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			s.Close()
			return nil, nil, WrapExitError(ExitCommandError, "listen for metrics", err)
		}
		metricsAddr = ln.Addr().String()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Handler: mux}
		go func() { _ = metricsSrv.Serve(ln) }()
	}

	g := gate.New(s, rs,
		gate.WithClock(clock),
		gate.WithTokens(tokens),
		gate.WithRecorder(recorder),
	)
	snaps := snapshot.New(s, g)
	rec := reconstruct.New(s,
		reconstruct.WithClock(clock),
		reconstruct.WithTokens(tokens),
		reconstruct.WithRecorder(recorder),
		reconstruct.WithSnapshots(snaps),
	)

	e := &env{
		store:       s,
		rules:       rs,
		gate:        g,
		rec:         rec,
		snaps:       snaps,
		metricsAddr: metricsAddr,
	}
	cleanup := func() {
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		s.Close()
	}
	return e, cleanup, nil
}

// Package watchdog wires the three control loops described in the
// checkpoint watchdog design — tick-accurate deadline evaluation,
// checkpoint ingest, and restart — over a fixed, statically configured
// peer set.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-version"
	"golang.org/x/sync/errgroup"

	"github.com/jabolina/go-watchdog/pkg/watchdog/core"
	"github.com/jabolina/go-watchdog/pkg/watchdog/definition"
	"github.com/jabolina/go-watchdog/pkg/watchdog/metrics"
	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// Supervisor owns the peer set and the three control loops that observe
// and mutate it. It is built once from a static Config and run for the
// lifetime of the process; the peer set is never resized (§1 Non-goals:
// no dynamic membership).
type Supervisor struct {
	cfg types.Config

	peers    []*core.Peer
	channel  *core.Channel
	launcher core.Launcher
	killer   core.Killer

	watchdog *core.WatchdogLoop
	ingest   *core.IngestLoop
	restart  *core.RestartLoop

	log     types.Logger
	metrics *metrics.Registry
}

// Option customizes a Supervisor at construction time, overriding one of
// its collaborators (logger, metrics registry, launcher, killer) the way
// the teacher's constructors accept a caller-supplied Logger instead of
// always reaching for DefaultLogger.
type Option func(*Supervisor)

// WithLogger overrides the default stderr logger.
func WithLogger(log types.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithMetrics overrides the default metrics registry. Pass nil to
// disable metrics entirely (every increment becomes a no-op).
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithLauncher overrides the default shell-based spawn collaborator,
// e.g. for tests that fake process creation.
func WithLauncher(l core.Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithKiller overrides the default SIGKILL collaborator, e.g. for tests
// that fake process termination.
func WithKiller(k core.Killer) Option {
	return func(s *Supervisor) { s.killer = k }
}

// New validates cfg and builds a Supervisor. It does not spawn any
// peers: call Run to perform the §4.1 initial spawn sequence and start
// the three control loops.
func New(cfg types.Config, opts ...Option) (*Supervisor, error) {
	if err := validateProtocolVersions(cfg); err != nil {
		return nil, err
	}

	peers := make([]*core.Peer, len(cfg.Peers))
	for i, pc := range cfg.Peers {
		peers[i] = core.NewPeer(pc, cfg.MaxCP)
	}

	s := &Supervisor{
		cfg:      cfg,
		peers:    peers,
		channel:  nil,
		launcher: core.ShellLauncher{},
		killer:   core.SignalKiller{},
		log:      definition.NewDefaultLogger("watchdog"),
		metrics:  metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.channel = core.NewChannel(s.log)

	s.restart = core.NewRestartLoop(s.peers, s.launcher, s.channel, s.log, s.metrics)

	ingest, err := core.NewIngestLoop(s.peers, s.channel, s.restart, cfg.MaxCP, s.log, s.metrics)
	if err != nil {
		return nil, err
	}
	s.ingest = ingest
	s.watchdog = core.NewWatchdogLoop(s.peers, s.killer, cfg.TickPeriod, s.log, s.metrics)

	return s, nil
}

// validateProtocolVersions rejects a configuration where a peer's
// message-file protocol constraint cannot be satisfied by this build,
// per the DOMAIN STACK's go-version wiring: a peer built against an
// incompatible watchdog release is refused at start-up with a clear
// error instead of silently desyncing on the wire format later.
func validateProtocolVersions(cfg types.Config) error {
	if cfg.SupervisorVersion == "" {
		return nil
	}
	build, err := version.NewVersion(cfg.SupervisorVersion)
	if err != nil {
		return fmt.Errorf("%w: supervisor version %q: %v", types.ErrUnsupportedProtocolVersion, cfg.SupervisorVersion, err)
	}

	for _, pc := range cfg.Peers {
		if pc.ProtocolVersion == "" {
			continue
		}
		constraint, err := version.NewConstraint(pc.ProtocolVersion)
		if err != nil {
			return fmt.Errorf("%w: peer %s: constraint %q: %v", types.ErrUnsupportedProtocolVersion, pc.Name, pc.ProtocolVersion, err)
		}
		if !constraint.Check(build) {
			return fmt.Errorf("%w: peer %s requires %q, build is %s", types.ErrUnsupportedProtocolVersion, pc.Name, pc.ProtocolVersion, build)
		}
	}
	return nil
}

// Metrics exposes the supervisor's metrics registry, so the caller can
// mount its Prometheus handler wherever its own admin server lives.
func (s *Supervisor) Metrics() *metrics.Registry { return s.metrics }

// Snapshot returns a point-in-time view of every peer, in index order.
func (s *Supervisor) Snapshot() []core.Snapshot {
	out := make([]core.Snapshot, len(s.peers))
	for i, p := range s.peers {
		out[i] = p.Snapshot()
	}
	return out
}

// Run performs the §4.1 initial spawn sequence — spawning each peer in
// index order with an inter-spawn delay, recovering its initial PID, and
// registering its message path with the filesystem watcher — and then
// runs the three control loops until ctx is cancelled or one of them
// returns a fatal error (§7 EVENT_READ_FAILED).
//
// A SPAWN_FAILED or WATCH_REGISTRATION_FAILED error during the initial
// sequence is fatal, matching §4.1 and §7: Run returns immediately and
// no loop is started.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.initialSpawn(ctx); err != nil {
		return err
	}
	defer s.ingest.Close()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.watchdog.Run(gctx) })
	group.Go(func() error { return s.ingest.Run(gctx) })
	group.Go(func() error { return s.restart.Run(gctx, s.cfg.RestartFallbackInterval) })

	return group.Wait()
}

// initialSpawn implements §4.1: spawn peer i, wait the inter-spawn
// delay, read and clear the PID that peer writes into its message file,
// transition it to StateStarting, and register its message path with
// the filesystem watcher — in that order, once per peer, in index
// order.
func (s *Supervisor) initialSpawn(ctx context.Context) error {
	for _, p := range s.peers {
		if err := s.launcher.Launch(ctx, p.LaunchCommand(), p.CPUAffinity()); err != nil {
			return fmt.Errorf("%w: peer %s: %v", types.ErrSpawnFailed, p.Name(), err)
		}

		if s.cfg.InterSpawnDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.InterSpawnDelay):
			}
		}

		pid, err := s.channel.ReadAndClearPID(ctx, p.MessagePath())
		if err != nil {
			return fmt.Errorf("%w: peer %s: %v", types.ErrPIDReadFailed, p.Name(), err)
		}
		p.BeginStarting(pid)

		if err := s.ingest.Register(p.MessagePath()); err != nil {
			return fmt.Errorf("%w: peer %s: %v", types.ErrWatchRegistrationFailed, p.Name(), err)
		}

		s.log.Infof("watchdog: peer %s started, pid=%d", p.Name(), pid)
	}
	return nil
}

package core

import (
	"context"
	"time"

	"github.com/jabolina/go-watchdog/pkg/watchdog/metrics"
	"github.com/jabolina/go-watchdog/pkg/watchdog/priority"
	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// RestartLoop is the lower-priority control loop: it scans peers in
// index order and, for each one in StateTerminated, re-invokes its
// launch command, recovers the new PID from its message file, and
// transitions it back to StateStarting. It never re-registers the
// filesystem watch: the peer's message path is stable across restarts.
//
// RunOnce is called synchronously from the ingest loop after every
// wake-up (§4.2); Run additionally drives a low-frequency fallback scan
// so that a peer set terminated all at once — which stops producing any
// further checkpoint events — still gets revived (an explicit answer to
// the spec's open question about this exact scenario).
type RestartLoop struct {
	peers    []*Peer
	launcher Launcher
	channel  *Channel
	log      types.Logger
	metrics  *metrics.Registry
}

// NewRestartLoop builds the restart loop over the given peer set.
func NewRestartLoop(peers []*Peer, launcher Launcher, channel *Channel, log types.Logger, m *metrics.Registry) *RestartLoop {
	return &RestartLoop{
		peers:    peers,
		launcher: launcher,
		channel:  channel,
		log:      log,
		metrics:  m,
	}
}

// RunOnce performs a single restart pass over every peer currently in
// StateTerminated. Peers not in that state are skipped. A launch or
// PID-read failure is reported and the peer is left terminated, to be
// retried on the next pass.
func (r *RestartLoop) RunOnce(ctx context.Context) {
	for _, p := range r.peers {
		if !p.IsTerminated() {
			continue
		}
		r.restartOne(ctx, p)
	}
}

func (r *RestartLoop) restartOne(ctx context.Context, p *Peer) {
	if err := r.launcher.Launch(ctx, p.LaunchCommand(), p.CPUAffinity()); err != nil {
		r.log.Errorf("watchdog: %v: peer %s: %v", types.ErrSpawnFailed, p.Name(), err)
		r.incSpawnFailure(p)
		return
	}

	pid, err := r.channel.ReadAndClearPID(ctx, p.MessagePath())
	if err != nil {
		r.log.Errorf("watchdog: %v: peer %s: %v", types.ErrPIDReadFailed, p.Name(), err)
		r.incPIDReadFailure(p)
		return
	}

	p.BeginStarting(pid)
	r.incRestart(p)
}

// Run drives RunOnce on fallbackInterval in addition to whatever calls
// the ingest loop makes. fallbackInterval <= 0 disables the timer
// entirely, matching the spec's description of restart as purely
// event-triggered.
func (r *RestartLoop) Run(ctx context.Context, fallbackInterval time.Duration) error {
	priority.Raise(priority.ClassBackground)

	if fallbackInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *RestartLoop) incSpawnFailure(p *Peer) {
	if r.metrics != nil {
		r.metrics.SpawnFailures.WithLabelValues(p.Name()).Inc()
	}
}

func (r *RestartLoop) incPIDReadFailure(p *Peer) {
	if r.metrics != nil {
		r.metrics.PIDReadFailures.WithLabelValues(p.Name()).Inc()
	}
}

func (r *RestartLoop) incRestart(p *Peer) {
	if r.metrics != nil {
		r.metrics.Restarts.WithLabelValues(p.Name()).Inc()
		r.metrics.PeerState.WithLabelValues(p.Name()).Set(float64(types.StateStarting))
	}
}

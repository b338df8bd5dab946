package core

import (
	"context"
	"time"

	"github.com/jabolina/go-watchdog/pkg/watchdog/metrics"
	"github.com/jabolina/go-watchdog/pkg/watchdog/priority"
	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// WatchdogLoop is the highest-priority control loop: on every tick it
// evaluates every peer's active CP slot and forces a kill the moment a
// deadline is breached. It never reads from the message channel and
// never spawns; it only observes state set by the ingest loop and
// transitions peers toward StateTerminated.
type WatchdogLoop struct {
	peers      []*Peer
	killer     Killer
	tickPeriod time.Duration
	log        types.Logger
	metrics    *metrics.Registry
}

// NewWatchdogLoop builds the watchdog loop over the given peer set.
func NewWatchdogLoop(peers []*Peer, killer Killer, tickPeriod time.Duration, log types.Logger, m *metrics.Registry) *WatchdogLoop {
	return &WatchdogLoop{
		peers:      peers,
		killer:     killer,
		tickPeriod: tickPeriod,
		log:        log,
		metrics:    m,
	}
}

// Run arms a periodic timer at w.tickPeriod and evaluates deadlines
// until ctx is cancelled. Go's time.Ticker drops ticks under back-
// pressure rather than queuing an expiration count the way a Linux
// timerfd read would, so instead of trusting a count of "expirations"
// the loop measures elapsed wall-clock time against the expected tick
// period and derives the number of ticks to apply — equivalent in
// effect to the spec's missed-tick policy (host jitter never lets a
// deadline fire later than its real-time budget).
func (w *WatchdogLoop) Run(ctx context.Context) error {
	priority.Raise(priority.ClassRealtime)

	ticker := time.NewTicker(w.tickPeriod)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			ticks := int(now.Sub(last) / w.tickPeriod)
			if ticks < 1 {
				ticks = 1
			}
			last = last.Add(time.Duration(ticks) * w.tickPeriod)

			for _, p := range w.peers {
				attempted, killed := p.EvaluateDeadlines(ticks, w.killer, w.log)
				w.recordAttempt(p, attempted, killed)
			}
		}
	}
}

func (w *WatchdogLoop) recordAttempt(p *Peer, attempted, killed bool) {
	if w.metrics == nil || !attempted {
		return
	}
	w.metrics.PeerState.WithLabelValues(p.Name()).Set(float64(p.State()))
	if killed {
		w.metrics.Kills.WithLabelValues(p.Name()).Inc()
	} else {
		w.metrics.KillFailures.WithLabelValues(p.Name()).Inc()
	}
}

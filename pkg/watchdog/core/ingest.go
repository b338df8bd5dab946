package core

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/jabolina/go-watchdog/pkg/watchdog/metrics"
	"github.com/jabolina/go-watchdog/pkg/watchdog/priority"
	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// IngestLoop is the other highest-priority control loop: it blocks on a
// filesystem-modification event stream across every registered peer
// message path, applies newly written CP records to the affected
// peer's state, and truncates the file for the next batch. After each
// wake-up it synchronously triggers a restart pass (§4.2), so a peer
// terminated between wake-ups is revived without waiting for a timer.
// RestartLoop.Run's optional fallback timer is the only other trigger.
type IngestLoop struct {
	peers     []*Peer
	pathIndex map[string]int
	watcher   *fsnotify.Watcher
	channel   *Channel
	restart   *RestartLoop
	maxCP     int
	log       types.Logger
	metrics   *metrics.Registry
}

// NewIngestLoop builds the ingest loop. Register (§4.1) must be called
// for each peer's message path before Run starts.
func NewIngestLoop(peers []*Peer, channel *Channel, restart *RestartLoop, maxCP int, log types.Logger, m *metrics.Registry) (*IngestLoop, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWatchRegistrationFailed, err)
	}

	pathIndex := make(map[string]int, len(peers))
	for i, p := range peers {
		pathIndex[p.MessagePath()] = i
	}

	return &IngestLoop{
		peers:     peers,
		pathIndex: pathIndex,
		watcher:   watcher,
		channel:   channel,
		restart:   restart,
		maxCP:     maxCP,
		log:       log,
		metrics:   m,
	}, nil
}

// Register subscribes path to the filesystem watcher. Called once per
// peer during §4.1 initialization, after that peer's initial spawn.
func (l *IngestLoop) Register(path string) error {
	if err := l.watcher.Add(path); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrWatchRegistrationFailed, path, err)
	}
	return nil
}

// Close releases the underlying filesystem watcher.
func (l *IngestLoop) Close() error {
	return l.watcher.Close()
}

// Run blocks on the notification stream and processes events until ctx
// is cancelled or the event stream itself fails, which is treated as
// fatal: the structure of the loop is broken (§7 EVENT_READ_FAILED).
func (l *IngestLoop) Run(ctx context.Context) error {
	priority.Raise(priority.ClassRealtime)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-l.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.processEvent(ctx, event.Name)
			l.restart.RunOnce(ctx)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("%w: %v", types.ErrEventReadFailed, err)
		}
	}
}

// processEvent handles one wake-up for a single peer's message path:
// read every pending CP record under the file's advisory lock, apply
// each in file order (so the latest record for the peer wins), then
// truncate. A file-open failure is reported and the event is skipped,
// per §7 FILE_OPEN_FAILED.
func (l *IngestLoop) processEvent(ctx context.Context, path string) {
	idx, ok := l.pathIndex[path]
	if !ok {
		return
	}
	peer := l.peers[idx]

	records, err := l.channel.ReadAndClearCheckpoints(ctx, path, l.maxCP)
	if err != nil {
		l.log.Errorf("watchdog: ingest failed for %s: %v", path, err)
		return
	}

	for _, k := range records {
		if err := peer.ApplyCheckpoint(k); err != nil {
			l.log.Debugf("watchdog: %v", err)
			l.incDropped(peer)
			continue
		}
		l.incIngested(peer)
	}
}

func (l *IngestLoop) incIngested(p *Peer) {
	if l.metrics != nil {
		l.metrics.CheckpointsIngested.WithLabelValues(p.Name()).Inc()
	}
}

func (l *IngestLoop) incDropped(p *Peer) {
	if l.metrics != nil {
		l.metrics.CheckpointsDropped.WithLabelValues(p.Name()).Inc()
	}
}

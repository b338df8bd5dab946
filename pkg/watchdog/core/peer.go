package core

import (
	"fmt"
	"sync"

	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// Killer is the abstract "terminate PID" collaborator. Implementations
// are synchronous; failure is reported by the caller and retried on the
// next deadline breach.
type Killer interface {
	Kill(pid int) error
}

// Peer owns the value-typed state of one supervised process: its
// lifecycle state, PID, and CP slots. All of it lives behind a single
// mutex so that the watchdog, ingest, and restart loops observe and
// mutate a consistent (state, pid, cp_slots) tuple, per the
// synchronization discipline in the concurrency model.
//
// A Peer is created once at supervisor start and never reallocated; PIDs
// cycle through it across restarts.
type Peer struct {
	mu sync.Mutex

	index         int
	name          string
	launchCommand string
	messagePath   string
	cpuAffinity   *int

	pid          int
	state        types.PeerState
	lastCPToken  string
	deadlines    []int
	slots        []types.CPSlot
}

// NewPeer builds a Peer from its static configuration. maxCP is the
// supervisor-wide CP slot capacity (MAX_CP); cfg.ArmingRoles must have
// exactly that length.
func NewPeer(cfg types.PeerConfig, maxCP int) *Peer {
	slots := make([]types.CPSlot, maxCP)
	for i := 0; i < maxCP && i < len(cfg.ArmingRoles); i++ {
		slots[i].Role = cfg.ArmingRoles[i]
	}

	return &Peer{
		index:         cfg.Index,
		name:          cfg.Name,
		launchCommand: cfg.LaunchCommand,
		messagePath:   cfg.MessagePath,
		cpuAffinity:   cfg.CPUAffinity,
		deadlines:     append([]int(nil), cfg.Deadlines...),
		slots:         slots,
		state:         types.StateInitial,
	}
}

// Index returns the peer's fixed position in [0, N).
func (p *Peer) Index() int { return p.index }

// Name returns the peer's configured name.
func (p *Peer) Name() string { return p.name }

// LaunchCommand returns the static shell command used to spawn the
// peer. Immutable after construction; safe without locking.
func (p *Peer) LaunchCommand() string { return p.launchCommand }

// MessagePath returns the static absolute path of the peer's message
// file. Immutable after construction; safe without locking.
func (p *Peer) MessagePath() string { return p.messagePath }

// CPUAffinity returns the CPU core the peer should be pinned to, or nil
// if unset.
func (p *Peer) CPUAffinity() *int { return p.cpuAffinity }

// State returns the peer's current lifecycle state.
func (p *Peer) State() types.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the peer's current PID, or 0 if it has none.
func (p *Peer) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// IsTerminated reports whether the peer is currently in StateTerminated,
// the condition the restart loop scans for.
func (p *Peer) IsTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == types.StateTerminated
}

// Snapshot is a read-only view of a peer's state, used for diagnostics
// and tests without exposing the internal slot slice.
type Snapshot struct {
	Index       int
	Name        string
	PID         int
	State       types.PeerState
	LastCPToken string
	ActiveSlot  int // -1 if none active
	Remaining   int
}

// Snapshot takes a consistent point-in-time copy of the peer's state.
func (p *Peer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Index:       p.index,
		Name:        p.name,
		PID:         p.pid,
		State:       p.state,
		LastCPToken: p.lastCPToken,
		ActiveSlot:  -1,
	}
	if idx, ok := p.activeSlotLocked(); ok {
		s.ActiveSlot = idx
		s.Remaining = p.slots[idx].Remaining
	}
	return s
}

// activeSlotLocked returns the index of the unique active CP slot, if
// any. Must be called with mu held.
func (p *Peer) activeSlotLocked() (int, bool) {
	for i := range p.slots {
		if p.slots[i].Active {
			return i, true
		}
	}
	return 0, false
}

// deadlineForLocked returns the configured budget for slot k, treating
// an unconfigured index as a zero (already-late) budget. Must be called
// with mu held.
func (p *Peer) deadlineForLocked(k int) int {
	if k < 0 || k >= len(p.deadlines) {
		return 0
	}
	return p.deadlines[k]
}

// ApplyCheckpoint applies one ingested "cp: <k>" record to this peer's
// CP slots, per the CP state transition rules:
//
//   - role = end:   disarm slot k-1; nothing new armed.
//   - role = start: arm slot k with its configured deadline.
//   - role = none:  arm slot k, disarm slot k-1 (the usual handoff).
//
// k = 0 with role = none suppresses the disarm of slot -1 (there is no
// predecessor). k outside [0, len(slots)) is rejected as malformed.
func (p *Peer) ApplyCheckpoint(k int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if k < 0 || k >= len(p.slots) {
		return fmt.Errorf("%w: %d", types.ErrInvalidCPIndex, k)
	}

	role := p.slots[k].Role
	switch role {
	case types.RoleEnd:
		if k > 0 {
			p.slots[k-1].Active = false
		}
	case types.RoleStart:
		p.slots[k].Remaining = p.deadlineForLocked(k)
		p.slots[k].Active = true
	default: // RoleNone
		p.slots[k].Remaining = p.deadlineForLocked(k)
		p.slots[k].Active = true
		if k > 0 {
			p.slots[k-1].Active = false
		}
	}

	p.lastCPToken = fmt.Sprintf("%d", k)
	return nil
}

// EvaluateDeadlines applies up to ticks decrements to this peer's active
// CP slot, firing the abstract kill operation the moment remaining
// reaches zero. It implements the missed-tick policy (§4.5): a batch of
// ticks collapsed from host jitter is applied as that many decrements in
// one pass, and the peer is resolved (killed, or left to retry) within
// the same call rather than spread across future wake-ups.
//
// The per-peer mutex is held across the decrement, the kill attempt, and
// the resulting state transition, satisfying the atomicity the
// concurrency model requires between the watchdog, ingest, and restart
// loops.
//
// It reports whether a kill was attempted and, if so, whether it
// succeeded, so the caller can update metrics without re-entering the
// peer's own lock from inside the Killer call.
func (p *Peer) EvaluateDeadlines(ticks int, killer Killer, log types.Logger) (attempted, killed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StateStarting {
		return false, false
	}

	for i := 0; i < ticks; i++ {
		idx, ok := p.activeSlotLocked()
		if !ok {
			return false, false
		}

		slot := &p.slots[idx]
		if slot.Remaining > 0 {
			slot.Remaining--
		}
		if slot.Remaining != 0 {
			continue
		}

		pid := p.pid
		if err := killer.Kill(pid); err != nil {
			log.Errorf("watchdog: kill failed for peer %s (pid %d): %v", p.name, pid, err)
			return true, false
		}
		p.terminateLocked()
		return true, true
	}
	return false, false
}

// terminateLocked clears all CP slots and the PID, and transitions the
// peer to StateTerminated. Must be called with mu held.
func (p *Peer) terminateLocked() {
	for i := range p.slots {
		p.slots[i].Active = false
		p.slots[i].Remaining = 0
	}
	p.pid = 0
	p.state = types.StateTerminated
}

// BeginStarting installs the PID read after the initial spawn (or a
// restart) and transitions the peer to StateStarting. CP slots are
// assumed already cleared (true both for a fresh peer and for one
// coming out of terminateLocked).
func (p *Peer) BeginStarting(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pid = pid
	p.state = types.StateStarting
}

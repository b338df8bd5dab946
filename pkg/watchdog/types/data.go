package types

import "time"

// ArmingRole statically classifies a CP slot, controlling how the arrival
// of that checkpoint reshapes the peer's active countdown.
type ArmingRole int

const (
	// RoleNone re-arms this slot and disarms the previous one. This is
	// the handoff case between two consecutive checkpoints.
	RoleNone ArmingRole = iota
	// RoleStart re-arms this slot; there is no predecessor to disarm.
	RoleStart
	// RoleEnd disarms the previous slot; no new countdown begins.
	RoleEnd
)

func (r ArmingRole) String() string {
	switch r {
	case RoleStart:
		return "start"
	case RoleEnd:
		return "end"
	default:
		return "none"
	}
}

// PeerState is the lifecycle state of a supervised peer.
type PeerState int

const (
	// StateInitial is the state of a peer record before its first spawn.
	StateInitial PeerState = iota
	// StateStarting means the peer has a live PID and its checkpoint
	// deadlines are being evaluated.
	StateStarting
	// StateTerminated means the supervisor forcibly killed the peer;
	// the restart loop will bring it back to StateStarting.
	StateTerminated
)

func (s PeerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateTerminated:
		return "terminated"
	default:
		return "initial"
	}
}

// CPSlot is the per-checkpoint countdown state within a peer.
type CPSlot struct {
	Role      ArmingRole
	Active    bool
	Remaining int
}

// PeerConfig is the static, supervisor-lifetime configuration for a
// single supervised peer. It is installed once before any loop starts
// and never mutated afterward.
type PeerConfig struct {
	// Index is the peer's fixed position in [0, N).
	Index int

	// Name identifies the peer in logs and metrics.
	Name string

	// LaunchCommand is the shell command used to (re)spawn the peer.
	LaunchCommand string

	// MessagePath is the absolute path of the peer's message file,
	// carrying PID and "cp: <token>" records.
	MessagePath string

	// Deadlines holds the per-CP budget in ticks, deadlines[i] is
	// loaded into cp_slots[i].Remaining when slot i is armed. Length
	// must be <= MAX_CP.
	Deadlines []int

	// ArmingRoles holds the static role of each CP slot. Length must
	// equal MAX_CP.
	ArmingRoles []ArmingRole

	// ProtocolVersion is a version constraint (as understood by
	// hashicorp/go-version) that the running supervisor build must
	// satisfy for this peer's message-file format to be honored, e.g.
	// ">= 1.0.0, < 2.0.0". Empty means no constraint.
	ProtocolVersion string

	// CPUAffinity, if set, pins the launched peer to the given CPU
	// core via taskset, mirroring the original monitor's launch
	// commands.
	CPUAffinity *int
}

// Config is the static configuration for an entire supervisor instance.
type Config struct {
	// MaxCP is the per-peer CP slot capacity (MAX_CP).
	MaxCP int

	// TickPeriod is the watchdog timer interval; 1ms per the spec.
	TickPeriod time.Duration

	// InterSpawnDelay is the pause between spawning consecutive peers
	// during start-up, allowing each to initialize; ~1s per the spec.
	InterSpawnDelay time.Duration

	// RestartFallbackInterval, if positive, runs the restart pass on
	// this period in addition to the post-ingest trigger, covering the
	// case where every peer is terminated at once and no further
	// checkpoint events arrive to drive a restart pass. Zero or a
	// negative value disables the fallback timer.
	RestartFallbackInterval time.Duration

	// SupervisorVersion is this build's own version, checked against
	// each PeerConfig.ProtocolVersion constraint at configuration time.
	SupervisorVersion string

	// Peers is the fixed peer set, indexed by PeerConfig.Index.
	Peers []PeerConfig
}

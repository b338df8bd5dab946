package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// recordingLauncher simulates a peer process: each Launch call writes an
// incrementing PID into the message file it is bound to, the way a real
// peer writes its own PID at startup (and again after every restart).
type recordingLauncher struct {
	path  string
	calls int32
}

func (l *recordingLauncher) Launch(_ context.Context, _ string, _ *int) error {
	n := atomic.AddInt32(&l.calls, 1)
	return os.WriteFile(l.path, []byte(fmt.Sprintf("%d\n", 1000+n)), 0o644)
}

// recordingKiller records every kill and always succeeds.
type recordingKiller struct {
	mu   sync.Mutex
	pids []int
}

func (k *recordingKiller) Kill(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pids = append(k.pids, pid)
	return nil
}

func (k *recordingKiller) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pids)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestSupervisor_DeadlineBreachAndRestart drives S1 (deadline breach)
// and S3 (restart) end to end: a peer that never checks in past its
// configured budget is killed, and the restart loop — fired by the
// fallback timer, since a fully terminated peer set produces no further
// ingest events — brings it back to StateStarting with a fresh PID.
func TestSupervisor_DeadlineBreachAndRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "peer0")
	if err := os.WriteFile(path, []byte("1000\n"), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}

	launcher := &recordingLauncher{path: path}
	killer := &recordingKiller{}

	cfg := types.Config{
		MaxCP:                   2,
		TickPeriod:              time.Millisecond,
		InterSpawnDelay:         0,
		RestartFallbackInterval: 20 * time.Millisecond,
		Peers: []types.PeerConfig{
			{
				Index:         0,
				Name:          "p0",
				LaunchCommand: "true",
				MessagePath:   path,
				Deadlines:     []int{20, 0},
				ArmingRoles:   []types.ArmingRole{types.RoleStart, types.RoleEnd},
			},
		},
	}

	sup, err := New(cfg, WithLauncher(launcher), WithKiller(killer), WithMetrics(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		return sup.Snapshot()[0].State == types.StateStarting
	})
	initialPID := sup.Snapshot()[0].PID

	// Arm the countdown: "cp: 0" with role=start loads deadlines[0]=20.
	if err := appendLine(path, "cp: 0"); err != nil {
		t.Fatalf("append cp: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return killer.count() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		return sup.Snapshot()[0].State == types.StateStarting && sup.Snapshot()[0].PID != initialPID
	})

	snap := sup.Snapshot()[0]
	if snap.ActiveSlot != -1 {
		t.Fatalf("expected no active slot after restart, got %d", snap.ActiveSlot)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("supervisor did not shut down after cancellation")
	}
}

// TestSupervisor_TimelyCheckpointsNeverTerminate drives S2: a peer that
// keeps checking in before each deadline stays in StateStarting and no
// kill is ever issued.
func TestSupervisor_TimelyCheckpointsNeverTerminate(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "peer0")
	if err := os.WriteFile(path, []byte("2000\n"), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}

	launcher := &recordingLauncher{path: path}
	killer := &recordingKiller{}

	cfg := types.Config{
		MaxCP:           4,
		TickPeriod:      time.Millisecond,
		InterSpawnDelay: 0,
		Peers: []types.PeerConfig{
			{
				Index:         0,
				Name:          "p0",
				LaunchCommand: "true",
				MessagePath:   path,
				Deadlines:     []int{200, 200, 200, 0},
				ArmingRoles: []types.ArmingRole{
					types.RoleStart, types.RoleNone, types.RoleNone, types.RoleEnd,
				},
			},
		},
	}

	sup, err := New(cfg, WithLauncher(launcher), WithKiller(killer), WithMetrics(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		return sup.Snapshot()[0].State == types.StateStarting
	})

	for _, cp := range []string{"cp: 0", "cp: 1", "cp: 2", "cp: 3"} {
		if err := appendLine(path, cp); err != nil {
			t.Fatalf("append %s: %v", cp, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if killer.count() != 0 {
		t.Fatalf("expected no kills during timely progress, got %d", killer.count())
	}
	if sup.Snapshot()[0].State != types.StateStarting {
		t.Fatalf("expected peer to remain starting, got %s", sup.Snapshot()[0].State)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("supervisor did not shut down after cancellation")
	}
}

// TestNew_RejectsIncompatibleProtocolVersion exercises the go-version
// wiring: a peer whose protocol constraint the build version doesn't
// satisfy is rejected at construction time rather than allowed to
// desync silently later.
func TestNew_RejectsIncompatibleProtocolVersion(t *testing.T) {
	cfg := types.Config{
		MaxCP:             1,
		TickPeriod:        time.Millisecond,
		SupervisorVersion: "1.0.0",
		Peers: []types.PeerConfig{
			{
				Index:           0,
				Name:            "p0",
				LaunchCommand:   "true",
				MessagePath:     "/tmp/unused",
				Deadlines:       []int{0},
				ArmingRoles:     []types.ArmingRole{types.RoleStart},
				ProtocolVersion: ">= 2.0.0",
			},
		},
	}

	if _, err := New(cfg); err == nil {
		t.Fatalf("expected construction to fail for an incompatible protocol constraint")
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

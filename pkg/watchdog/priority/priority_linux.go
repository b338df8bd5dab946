//go:build linux

// Package priority makes a best-effort attempt to carry forward the
// original monitor's real-time scheduling intent: the watchdog and
// checkpoint-ingest loops ran SCHED_FIFO at the maximum priority, and the
// restart loop one step below, so that a deadline expiry is never
// indefinitely delayed by a restart's blocking I/O.
//
// Go cannot pin a single goroutine to an OS thread's scheduling class
// portably, and a real-time policy needs CAP_SYS_NICE, which arbitrary
// deployment environments do not grant. Raise therefore leaves the
// scheduling policy unchanged (no SCHED_FIFO): it locks the calling
// goroutine to its OS thread and sets that thread's nice value through
// golang.org/x/sys/unix, ignoring any error, so it never fails the caller.
package priority

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Class distinguishes the two priority tiers the spec requires.
type Class int

const (
	// ClassRealtime is used by the watchdog and checkpoint-ingest
	// loops: highest priority, never starved by the restart loop.
	ClassRealtime Class = iota
	// ClassBackground is used by the restart loop: one step below.
	ClassBackground
)

// Raise locks the calling goroutine to its current OS thread and applies
// a best-effort niceness adjustment matching Class. Errors are
// swallowed: this is a scheduling hint, not a correctness requirement,
// and unprivileged processes commonly cannot lower niceness at all.
func Raise(class Class) {
	runtime.LockOSThread()

	nice := 0
	switch class {
	case ClassRealtime:
		nice = -10
	case ClassBackground:
		nice = 0
	}

	_ = unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

package types

import "errors"

// Error kinds from the error-handling design. Most are reported and
// absorbed by the loop they occur in. Those marked fatal make
// Supervisor.Run return; so does ErrPIDReadFailed during the initial
// spawn, and New returns ErrUnsupportedProtocolVersion.
var (
	// ErrSpawnFailed: launch command could not be executed. Fatal at
	// start-up; reported-and-retried during restart.
	ErrSpawnFailed = errors.New("watchdog: launch command failed")

	// ErrWatchRegistrationFailed: a message path could not be
	// registered with the filesystem watcher. Fatal at start-up.
	ErrWatchRegistrationFailed = errors.New("watchdog: watch registration failed")

	// ErrPIDReadFailed: the PID file could not be opened, parsed, or
	// truncated. During restart the peer is left terminated and retried
	// next pass; during the initial spawn it is fatal.
	ErrPIDReadFailed = errors.New("watchdog: pid read failed")

	// ErrEventReadFailed: the notification stream read returned an
	// error. Fatal: the structure of the ingest loop is broken.
	ErrEventReadFailed = errors.New("watchdog: event stream read failed")

	// ErrFileOpenFailed: the CP file could not be opened during
	// ingest. Reported, event is skipped.
	ErrFileOpenFailed = errors.New("watchdog: checkpoint file open failed")

	// ErrLockContention: acquiring the advisory lock returned an error.
	// A lock that is merely busy is retried until it is acquired or the
	// context is cancelled, and is not reported with this error.
	ErrLockContention = errors.New("watchdog: advisory lock contention")

	// ErrKillFailed: the terminate operation failed. Peer is left
	// starting; the next deadline breach retries.
	ErrKillFailed = errors.New("watchdog: kill failed")

	// ErrTruncateFailed: file truncation failed after a successful
	// read; the file will grow until truncation succeeds.
	ErrTruncateFailed = errors.New("watchdog: truncate failed")

	// ErrUnsupportedProtocolVersion: a peer's configured protocol
	// version constraint rejects this supervisor build.
	ErrUnsupportedProtocolVersion = errors.New("watchdog: unsupported protocol version")

	// ErrInvalidCPIndex: a checkpoint record named a slot outside
	// [0, MAX_CP).
	ErrInvalidCPIndex = errors.New("watchdog: cp index out of range")
)

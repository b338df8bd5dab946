package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/jabolina/go-watchdog/pkg/watchdog/types"
)

// lockRetryDelay is the back-off between advisory-lock acquisition
// attempts, mirroring the original monitor's usleep(1000) retry loop.
const lockRetryDelay = time.Millisecond

// cpLinePrefix is the record tag a peer writes for a checkpoint event:
// one "cp: <decimal>" line per event, newline-terminated.
const cpLinePrefix = "cp:"

// Channel implements the peer message-file contract: atomic-enough
// whole-file exclusive locking around a read-then-truncate critical
// section, shared by the checkpoint-ingest and restart loops.
//
// This is the same channel abstraction described in the spec's external
// interfaces: one file per peer, a PID record written once at startup
// and "cp: <decimal>" records appended per checkpoint, unrecognized
// lines silently dropped.
type Channel struct {
	log types.Logger
}

// NewChannel builds a Channel backed by the given logger for its
// debug/error reporting.
func NewChannel(log types.Logger) *Channel {
	return &Channel{log: log}
}

// withLock opens path for read-write, acquires the whole-file exclusive
// advisory lock (retrying with a short sleep on contention, per
// §4.2/§7's LOCK_CONTENTION policy), and invokes fn with the open file.
// The lock and file are always released, on every exit path.
func (c *Channel) withLock(ctx context.Context, path string, fn func(*os.File) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrFileOpenFailed, path, err)
	}
	defer f.Close()

	fl := flock.New(path)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrLockContention, path, err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	defer fl.Unlock()

	return fn(f)
}

// ReadAndClearPID reads the decimal PID a peer writes into its message
// file once at startup (and again after every restart), then truncates
// the file to empty length. It is used both by the initial spawn
// sequence and by the restart loop.
func (c *Channel) ReadAndClearPID(ctx context.Context, path string) (int, error) {
	var pid int
	err := c.withLock(ctx, path, func(f *os.File) error {
		data, err := readAll(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrPIDReadFailed, path, err)
		}

		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			return fmt.Errorf("%w: %s: empty pid file", types.ErrPIDReadFailed, path)
		}

		v, err := strconv.Atoi(trimmed)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrPIDReadFailed, path, err)
		}
		pid = v

		if err := truncateAndRewind(f); err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrTruncateFailed, path, err)
		}
		return nil
	})
	return pid, err
}

// ReadAndClearCheckpoints reads every pending "cp: <decimal>" line from
// a peer's message file, in file order, then truncates the file to
// empty length. Malformed lines (wrong shape, non-decimal, or
// out-of-range once maxCP is known) are silently dropped and reported
// at debug level; they do not abort the batch.
func (c *Channel) ReadAndClearCheckpoints(ctx context.Context, path string, maxCP int) ([]int, error) {
	var records []int
	err := c.withLock(ctx, path, func(f *os.File) error {
		data, err := readAll(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrFileOpenFailed, path, err)
		}

		sawLine := false
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			sawLine = true

			k, ok := parseCPLine(line)
			if !ok || k < 0 || k >= maxCP {
				c.log.Debugf("watchdog: dropping malformed checkpoint line %q from %s", line, path)
				continue
			}
			records = append(records, k)
		}

		if !sawLine {
			return nil
		}
		if err := truncateAndRewind(f); err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrTruncateFailed, path, err)
		}
		return nil
	})
	return records, err
}

// parseCPLine parses a line of the form "cp: <decimal>". Any other
// shape is reported as not-ok rather than an error, matching the spec's
// "unrecognized lines silently dropped".
func parseCPLine(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, cpLinePrefix) {
		return 0, false
	}
	rest := strings.TrimSpace(line[len(cpLinePrefix):])
	k, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return k, true
}

func readAll(f *os.File) ([]byte, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.Read(buf); err != nil && len(buf) > 0 {
		return nil, err
	}
	return buf, nil
}

func truncateAndRewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, 0)
	return err
}

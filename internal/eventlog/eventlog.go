// Package eventlog implements the append-only, single-writer event log
// that is the kernel's single source of truth: every state change is
// recorded here before any other artifact is considered durable.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// ErrLockTimeout is returned when the exclusive append lock could not be
// acquired within LockTimeout.
var ErrLockTimeout = errors.New("eventlog: timed out waiting for writer lock")

// LockTimeout bounds how long Append waits for the single-writer lock
// before giving up, matching spec.md §5's requirement that the log use
// "an exclusive per-append write lock on the log file".
const LockTimeout = 5 * time.Second

// Log is a handle onto the state root's single event log file.
type Log struct {
	root pathio.Root
}

// Open returns a Log bound to root's event log path. It does not read or
// lock anything yet.
func Open(root pathio.Root) *Log {
	return &Log{root: root}
}

// Append assigns the next sequence number to e, stamps its timestamp if
// zero, validates its shape, and appends it to the log under the
// single-writer lock. It returns the stored event (with Seq populated).
func (l *Log) Append(e domain.Event) (domain.Event, error) {
	if err := domain.ValidateEvent(e); err != nil {
		return domain.Event{}, fmt.Errorf("eventlog: append: %w", err)
	}
	if e.ID == "" {
		e.ID = domain.NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	fileLock := flock.New(l.root.EventLogLockPath())
	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		if errors.Is(err, context.DeadlineExceeded) || !locked {
			return domain.Event{}, ErrLockTimeout
		}
		return domain.Event{}, fmt.Errorf("eventlog: acquire lock: %w", err)
	}
	defer fileLock.Unlock()

	last, err := l.lastSeqLocked()
	if err != nil {
		return domain.Event{}, fmt.Errorf("eventlog: determine next seq: %w", err)
	}
	e.Seq = last + 1

	if err := l.appendLocked(e); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

func (l *Log) appendLocked(e domain.Event) error {
	path := l.root.EventLogPath()
	if err := pathio.Bootstrap(l.root); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("eventlog: write event: %w", err)
	}
	return f.Sync()
}

func (l *Log) lastSeqLocked() (int64, error) {
	events, err := l.readAllLocked()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Seq, nil
}

func (l *Log) readAllLocked() ([]domain.Event, error) {
	f, err := os.Open(l.root.EventLogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("eventlog: corrupt record: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan log: %w", err)
	}
	return events, nil
}

// ReadAll returns every event in chronological (append) order. It takes no
// lock: readers tolerate a concurrent in-flight append because appends are
// whole-line and newline-terminated.
func (l *Log) ReadAll() ([]domain.Event, error) {
	return l.readAllLocked()
}

// ReadSince returns events with Seq strictly greater than after, in order.
func (l *Log) ReadSince(after int64) ([]domain.Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, e := range all {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// ForTask returns every event carrying the given task id, in order.
func (l *Log) ForTask(taskID string) ([]domain.Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	for _, e := range all {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ForSlice returns every event carrying the given slice id, in order.
func (l *Log) ForSlice(sliceID string) ([]domain.Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	for _, e := range all {
		if e.SliceID == sliceID {
			out = append(out, e)
		}
	}
	return out, nil
}

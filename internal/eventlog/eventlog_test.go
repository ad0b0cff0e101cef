package eventlog

import (
	"testing"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	root := pathio.Root{ModuleRoot: t.TempDir()}
	if err := pathio.Bootstrap(root); err != nil {
		t.Fatal(err)
	}
	return Open(root)
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	log := newTestLog(t)

	e1, err := log.Append(domain.Event{Type: domain.EventTaskCreated, Actor: "kernel", TaskID: "T-0001"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.Seq != 1 {
		t.Fatalf("first event seq = %d, want 1", e1.Seq)
	}

	e2, err := log.Append(domain.Event{Type: domain.EventSliceCreated, Actor: "kernel", TaskID: "T-0001", SliceID: "S-0001"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.Seq != 2 {
		t.Fatalf("second event seq = %d, want 2", e2.Seq)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	log := newTestLog(t)
	_, err := log.Append(domain.Event{Type: "bogus.event", Actor: "kernel"})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestReadAllRoundTrip(t *testing.T) {
	log := newTestLog(t)

	for i := 0; i < 5; i++ {
		if _, err := log.Append(domain.Event{Type: domain.EventTaskCreated, Actor: "kernel", TaskID: "T-0001"}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("len(events) = %d, want 5", len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Fatalf("events[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestReadSinceFiltersBySeq(t *testing.T) {
	log := newTestLog(t)
	for i := 0; i < 4; i++ {
		if _, err := log.Append(domain.Event{Type: domain.EventTaskCreated, Actor: "kernel"}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := log.ReadSince(2)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Seq != 3 {
		t.Fatalf("recent[0].Seq = %d, want 3", recent[0].Seq)
	}
}

func TestForTaskAndForSlice(t *testing.T) {
	log := newTestLog(t)
	if _, err := log.Append(domain.Event{Type: domain.EventTaskCreated, Actor: "kernel", TaskID: "T-0001"}); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(domain.Event{Type: domain.EventSliceCreated, Actor: "kernel", TaskID: "T-0001", SliceID: "S-0001"}); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(domain.Event{Type: domain.EventTaskCreated, Actor: "kernel", TaskID: "T-0002"}); err != nil {
		t.Fatal(err)
	}

	taskEvents, err := log.ForTask("T-0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(taskEvents) != 2 {
		t.Fatalf("len(taskEvents) = %d, want 2", len(taskEvents))
	}

	sliceEvents, err := log.ForSlice("S-0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(sliceEvents) != 1 {
		t.Fatalf("len(sliceEvents) = %d, want 1", len(sliceEvents))
	}
}

func TestReadAllOnMissingLogReturnsEmpty(t *testing.T) {
	log := newTestLog(t)
	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on missing log: %v", err)
	}
	if events != nil {
		t.Fatalf("expected nil events, got %v", events)
	}
}

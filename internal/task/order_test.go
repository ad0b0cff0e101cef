package task

import (
	"testing"

	"github.com/csk-dev/csk/internal/domain"
)

func TestTopoOrderRespectsDependencies(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0003", Deps: []string{"S-0002"}},
		{SliceID: "S-0001"},
		{SliceID: "S-0002", Deps: []string{"S-0001"}},
	}
	ordered, err := TopoOrder(slices)
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	pos := make(map[string]int, len(ordered))
	for i, s := range ordered {
		pos[s.SliceID] = i
	}
	if pos["S-0001"] > pos["S-0002"] || pos["S-0002"] > pos["S-0003"] {
		t.Fatalf("expected S-0001 < S-0002 < S-0003, got order %v", ordered)
	}
}

func TestTopoOrderBreaksTiesLexically(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0003"},
		{SliceID: "S-0001"},
		{SliceID: "S-0002"},
	}
	ordered, err := TopoOrder(slices)
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	want := []string{"S-0001", "S-0002", "S-0003"}
	for i, id := range want {
		if ordered[i].SliceID != id {
			t.Fatalf("ordered[%d] = %s, want %s", i, ordered[i].SliceID, id)
		}
	}
}

func TestTopoOrderDetectsCycle(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0001", Deps: []string{"S-0002"}},
		{SliceID: "S-0002", Deps: []string{"S-0001"}},
	}
	if _, err := TopoOrder(slices); err != ErrCycle {
		t.Fatalf("TopoOrder = %v, want ErrCycle", err)
	}
}

func TestActiveSliceSkipsDoneAndRespectsDeps(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0001", Status: domain.SliceStatusDone},
		{SliceID: "S-0002", Deps: []string{"S-0001"}, Status: domain.SliceStatusPending},
		{SliceID: "S-0003", Deps: []string{"S-0002"}, Status: domain.SliceStatusPending},
	}
	active, ok := ActiveSlice(slices)
	if !ok {
		t.Fatal("expected an active slice")
	}
	if active.SliceID != "S-0002" {
		t.Fatalf("ActiveSlice = %s, want S-0002", active.SliceID)
	}
}

func TestActiveSliceBlockedOnUnfinishedDependency(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0001", Status: domain.SliceStatusRunning},
		{SliceID: "S-0002", Deps: []string{"S-0001"}, Status: domain.SliceStatusPending},
	}
	active, ok := ActiveSlice(slices)
	if !ok {
		t.Fatal("expected S-0001 itself to be selectable as active")
	}
	if active.SliceID != "S-0001" {
		t.Fatalf("ActiveSlice = %s, want S-0001", active.SliceID)
	}
}

func TestActiveSliceNoneWhenAllDone(t *testing.T) {
	slices := []domain.Slice{
		{SliceID: "S-0001", Status: domain.SliceStatusDone},
		{SliceID: "S-0002", Status: domain.SliceStatusDone},
	}
	if _, ok := ActiveSlice(slices); ok {
		t.Fatal("expected no active slice when all are done")
	}
}

package core

import (
	"context"
	"strings"
	"testing"
)

// TestExecutionHistory_Ring verifies the ring keeps the newest records
// Given: A history of capacity 3
// When: Five records are added
// Then: Recent returns the last three, newest first
func TestExecutionHistory_Ring(t *testing.T) {
	h := newExecutionHistory(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		h.Add(ExecutionRecord{Name: name})
	}

	recent := h.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent(0) returned %d records, want 3", len(recent))
	}
	for i, want := range []string{"e", "d", "c"} {
		if recent[i].Name != want {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].Name, want)
		}
	}
	if got := h.Recent(1); len(got) != 1 || got[0].Name != "e" {
		t.Errorf("Recent(1) = %v, want [e]", got)
	}
	if last, ok := h.Last(); !ok || last.Name != "e" {
		t.Errorf("Last() = %v, %v, want e", last, ok)
	}

	h.Reset()
	if _, ok := h.Last(); ok {
		t.Error("Last() reported a record after Reset")
	}
	if h.Recent(5) != nil {
		t.Error("Recent() returned records after Reset")
	}
}

func namedHistoryTask(ctx context.Context) {}

// TestResolveTaskName verifies explicit names win and functions are named
func TestResolveTaskName(t *testing.T) {
	if got := resolveTaskName(namedHistoryTask, "explicit"); got != "explicit" {
		t.Errorf("resolveTaskName(explicit) = %q", got)
	}
	if got := resolveTaskName(namedHistoryTask, ""); !strings.HasSuffix(got, "namedHistoryTask") {
		t.Errorf("resolveTaskName(fn) = %q, want the function name", got)
	}
	if got := resolveTaskName(nil, ""); got != "anonymous" {
		t.Errorf("resolveTaskName(nil) = %q, want anonymous", got)
	}
}

package stages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	if len(s) != Count {
		t.Fatalf("len(Defaults()) = %d, want %d", len(s), Count)
	}

	wantIDs := []string{"upload", "face", "style", "enhance"}
	wantTitles := []string{"Upload & Analyze", "Face Detection", "Style Transfer", "Enhancement"}
	for i, st := range s {
		if st.ID != wantIDs[i] || st.Title != wantTitles[i] {
			t.Errorf("stage %d = %s/%s, want %s/%s", i, st.ID, st.Title, wantIDs[i], wantTitles[i])
		}
		if st.Status != Pending {
			t.Errorf("stage %d status = %s, want pending", i, st.Status)
		}
	}

	s[0].Status = Completed
	if Defaults()[0].Status != Pending {
		t.Error("Defaults() must return a fresh copy")
	}
}

func TestSet_CompletedNeverReverts(t *testing.T) {
	s := Defaults()
	Set(s, 1, Completed)

	for _, to := range []Status{Pending, Processing, Error} {
		if Set(s, 1, to) {
			t.Errorf("Set(completed -> %s) = true, want false", to)
		}
		if s[1].Status != Completed {
			t.Fatalf("stage reverted to %s", s[1].Status)
		}
	}

	if Set(s, 7, Processing) || Set(s, -1, Processing) {
		t.Error("out of range Set should report false")
	}
}

func TestAdvanceSequence(t *testing.T) {
	s := Defaults()

	for i := 0; i < Count; i++ {
		Advance(s, i)
		for j := 0; j < i; j++ {
			if s[j].Status != Completed {
				t.Errorf("after Advance(%d): stage %d = %s, want completed", i, j, s[j].Status)
			}
		}
		if s[i].Status != Processing || Current(s) != i {
			t.Errorf("after Advance(%d): stage %d = %s, Current = %d", i, i, s[i].Status, Current(s))
		}
	}

	CompleteAll(s)
	if Current(s) != -1 {
		t.Errorf("Current() = %d after CompleteAll, want -1", Current(s))
	}
}

func TestFail(t *testing.T) {
	s := Defaults()
	Advance(s, 0)
	Advance(s, 1)
	Fail(s)

	want := []Status{Completed, Error, Pending, Pending}
	for i, st := range s {
		if st.Status != want[i] {
			t.Errorf("stage %d = %s, want %s", i, st.Status, want[i])
		}
	}
}

func TestRender_UsesStatusNotIndex(t *testing.T) {
	s := Defaults()
	s[0].Status = Completed
	s[1].Status = Completed
	s[2].Status = Processing

	// A stale hint pointing at stage 0 must not change anything but Current.
	for _, hint := range []int{0, 2, 3, -1} {
		views := Render(s, hint)

		if !views[0].Done || views[0].Badge != "Complete" || views[0].Spinner {
			t.Errorf("hint %d: stage 0 view = %+v", hint, views[0])
		}
		if !views[2].Spinner || views[2].Done {
			t.Errorf("hint %d: stage 2 view = %+v", hint, views[2])
		}
		if views[3].Spinner || views[3].Done || views[3].Failed {
			t.Errorf("hint %d: stage 3 view = %+v", hint, views[3])
		}
		for i, v := range views {
			if v.Current != (i == hint) {
				t.Errorf("hint %d: stage %d Current = %v", hint, i, v.Current)
			}
		}
	}
}

func TestRender_Connectors(t *testing.T) {
	s := Defaults()
	s[0].Status = Completed
	s[1].Status = Completed

	views := Render(s, 1)

	if !views[0].ConnectorFilled {
		t.Error("connector after stage 0 should be filled when stage 1 is completed")
	}
	if views[1].ConnectorFilled {
		t.Error("connector after stage 1 should be empty when stage 2 is pending")
	}
	if views[3].HasConnector {
		t.Error("last stage has no connector")
	}
}

func TestRenderText(t *testing.T) {
	s := Defaults()
	Advance(s, 0)
	Advance(s, 1)
	s[3].Status = Error

	var buf bytes.Buffer
	if err := RenderText(&buf, Render(s, 1)); err != nil {
		t.Fatalf("RenderText() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	prefixes := []string{"[x] Upload & Analyze", "[~] Face Detection", "[3] Style Transfer", "[!] Enhancement"}
	for i, p := range prefixes {
		if !strings.HasPrefix(lines[i], p) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], p)
		}
	}
	if !strings.HasSuffix(lines[0], "(Complete)") {
		t.Errorf("completed line missing badge: %q", lines[0])
	}
}

func TestSimulate_RunsAllSteps(t *testing.T) {
	var calls []int
	var stamps []time.Time
	delay := 20 * time.Millisecond

	start := time.Now()
	err := Simulate(context.Background(), Count, delay, func(i int) {
		calls = append(calls, i)
		stamps = append(stamps, time.Now())
	})
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}

	if len(calls) != Count {
		t.Fatalf("step called %d times, want %d", len(calls), Count)
	}
	for i, c := range calls {
		if c != i {
			t.Errorf("call %d got index %d", i, c)
		}
		if i > 0 && stamps[i].Sub(stamps[i-1]) < delay {
			t.Errorf("steps %d and %d only %v apart", i-1, i, stamps[i].Sub(stamps[i-1]))
		}
	}
	if elapsed := time.Since(start); elapsed < time.Duration(Count)*delay {
		t.Errorf("Simulate returned after %v, want at least %v", elapsed, time.Duration(Count)*delay)
	}
}

func TestSimulate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	err := Simulate(ctx, Count, time.Hour, func(i int) {
		calls++
		cancel()
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Simulate() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("step called %d times, want 1", calls)
	}
}

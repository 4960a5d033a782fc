package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chiijlaw/TextWorld/env"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSessionRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := j.BeginSession(Session{ID: "s1", Story: "curses.z5", Seed: 42, StartedAt: started}); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	s, err := j.Session("s1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if s.Story != "curses.z5" {
		t.Errorf("story = %q, want curses.z5", s.Story)
	}
	if s.Seed != 42 {
		t.Errorf("seed = %d, want 42", s.Seed)
	}
	if !s.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", s.StartedAt, started)
	}
}

func TestSessionNotFound(t *testing.T) {
	j := openTestJournal(t)

	if _, err := j.Session("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session error = %v, want ErrSessionNotFound", err)
	}
	if _, err := j.Steps("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Steps error = %v, want ErrSessionNotFound", err)
	}
}

func TestStepRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	if err := j.BeginSession(Session{ID: "s1", Story: "curses.z5", Seed: 7}); err != nil {
		t.Fatal(err)
	}

	steps := []Step{
		{Idx: 0, Action: "look", Observation: "You are in a room.", Score: 0, Moves: 2},
		{Idx: 1, Action: "take lamp", Observation: "Taken.", Score: 5, Moves: 3,
			Diff: []env.Change{{Offset: 0x40, Old: 1, New: 2}, {Offset: 0x41, Old: 0, New: 9}}},
		{Idx: 2, Action: "quit", Observation: "Thanks for playing.", Score: 5, Moves: 3, Done: true},
	}
	for _, s := range steps {
		if err := j.RecordStep("s1", s); err != nil {
			t.Fatalf("RecordStep(%d) failed: %v", s.Idx, err)
		}
	}

	got, err := j.Steps("s1")
	if err != nil {
		t.Fatalf("Steps failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("steps count = %d, want 3", len(got))
	}
	for i := range steps {
		if got[i].Action != steps[i].Action {
			t.Errorf("step %d action = %q, want %q", i, got[i].Action, steps[i].Action)
		}
		if got[i].Score != steps[i].Score || got[i].Moves != steps[i].Moves {
			t.Errorf("step %d score/moves = %d/%d, want %d/%d",
				i, got[i].Score, got[i].Moves, steps[i].Score, steps[i].Moves)
		}
		if got[i].Done != steps[i].Done {
			t.Errorf("step %d done = %v, want %v", i, got[i].Done, steps[i].Done)
		}
	}

	diff := got[1].Diff
	if len(diff) != 2 {
		t.Fatalf("step 1 diff length = %d, want 2", len(diff))
	}
	if diff[0] != (env.Change{Offset: 0x40, Old: 1, New: 2}) {
		t.Errorf("step 1 diff[0] = %+v", diff[0])
	}
	if got[0].Diff != nil {
		t.Errorf("step 0 diff = %v, want nil", got[0].Diff)
	}
}

func TestBeginSessionReplaces(t *testing.T) {
	j := openTestJournal(t)

	if err := j.BeginSession(Session{ID: "s1", Story: "zork1.z3", Seed: 1}); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordStep("s1", Step{Idx: 0, Action: "look", Observation: "West of House"}); err != nil {
		t.Fatal(err)
	}

	// Re-recording the same id starts over.
	if err := j.BeginSession(Session{ID: "s1", Story: "zork1.z3", Seed: 2}); err != nil {
		t.Fatal(err)
	}
	steps, err := j.Steps("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 0 {
		t.Errorf("steps after re-begin = %d, want 0", len(steps))
	}
	s, err := j.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Seed != 2 {
		t.Errorf("seed after re-begin = %d, want 2", s.Seed)
	}
}

func TestSessionsAndDelete(t *testing.T) {
	j := openTestJournal(t)

	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := j.BeginSession(Session{ID: id, Story: "curses.z5", Seed: int64(i), StartedAt: t0.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := j.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("sessions count = %d, want 3", len(all))
	}
	if all[0].ID != "a" || all[2].ID != "c" {
		t.Errorf("session order = %s,%s,%s, want a,b,c", all[0].ID, all[1].ID, all[2].ID)
	}

	if err := j.DeleteSession("b"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := j.Session("b"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("deleted session lookup error = %v, want ErrSessionNotFound", err)
	}
	all, err = j.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("sessions after delete = %d, want 2", len(all))
	}
}

// Package journal persists play trajectories to SQLite: one row per session,
// one row per step, with the step's world diff carried as a CBOR blob. The
// schema is append-mostly; replaying a recorded session against a fresh
// environment is how determinism regressions get caught.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/chiijlaw/TextWorld/env"
)

// ErrSessionNotFound indicates the requested session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("journal: cbor encode mode: " + err.Error())
	}
	cborEncMode = em
}

// Session is one recorded episode.
type Session struct {
	ID        string
	Story     string // story file path or name as the recorder knew it
	Seed      int64
	StartedAt time.Time
}

// Step is one recorded turn of a session.
type Step struct {
	Idx         int
	Action      string
	Observation string
	Score       int
	Moves       int
	Done        bool
	Diff        []env.Change // world diff for the turn, may be empty
}

// Journal handles SQLite storage for sessions and steps.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) a journal database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			story TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			session TEXT NOT NULL,
			idx INTEGER NOT NULL,
			action TEXT NOT NULL,
			observation TEXT NOT NULL,
			score INTEGER NOT NULL,
			moves INTEGER NOT NULL,
			done INTEGER NOT NULL,
			diff BLOB,
			PRIMARY KEY (session, idx)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// BeginSession records a new session. Recording over an existing id replaces
// its metadata and clears its steps.
func (j *Journal) BeginSession(s Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := j.db.Exec(
		"INSERT OR REPLACE INTO sessions (id, story, seed, started_at) VALUES (?, ?, ?, ?)",
		s.ID, s.Story, s.Seed, s.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if _, err := j.db.Exec("DELETE FROM steps WHERE session = ?", s.ID); err != nil {
		return fmt.Errorf("clearing steps: %w", err)
	}
	return nil
}

// Session retrieves one session's metadata.
func (j *Journal) Session(id string) (Session, error) {
	var s Session
	var started string
	err := j.db.QueryRow(
		"SELECT id, story, seed, started_at FROM sessions WHERE id = ?", id,
	).Scan(&s.ID, &s.Story, &s.Seed, &started)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("querying session: %w", err)
	}
	s.StartedAt, err = time.Parse(time.RFC3339, started)
	if err != nil {
		return Session{}, fmt.Errorf("parsing session timestamp: %w", err)
	}
	return s, nil
}

// Sessions lists all recorded sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	rows, err := j.db.Query("SELECT id, story, seed, started_at FROM sessions ORDER BY started_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started string
		if err := rows.Scan(&s.ID, &s.Story, &s.Seed, &started); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if s.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parsing session timestamp: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordStep appends one turn to a session.
func (j *Journal) RecordStep(session string, s Step) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var diff []byte
	if len(s.Diff) > 0 {
		var err error
		diff, err = cborEncMode.Marshal(s.Diff)
		if err != nil {
			return fmt.Errorf("encoding diff: %w", err)
		}
	}

	done := 0
	if s.Done {
		done = 1
	}
	_, err := j.db.Exec(
		"INSERT OR REPLACE INTO steps (session, idx, action, observation, score, moves, done, diff) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		session, s.Idx, s.Action, s.Observation, s.Score, s.Moves, done, diff,
	)
	if err != nil {
		return fmt.Errorf("saving step: %w", err)
	}
	return nil
}

// Steps retrieves a session's turns in order.
func (j *Journal) Steps(session string) ([]Step, error) {
	if _, err := j.Session(session); err != nil {
		return nil, err
	}

	rows, err := j.db.Query(
		"SELECT idx, action, observation, score, moves, done, diff FROM steps WHERE session = ? ORDER BY idx",
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var s Step
		var done int
		var diff []byte
		if err := rows.Scan(&s.Idx, &s.Action, &s.Observation, &s.Score, &s.Moves, &done, &diff); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		s.Done = done != 0
		if len(diff) > 0 {
			if err := cbor.Unmarshal(diff, &s.Diff); err != nil {
				return nil, fmt.Errorf("decoding diff for step %d: %w", s.Idx, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its steps.
func (j *Journal) DeleteSession(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.db.Exec("DELETE FROM steps WHERE session = ?", id); err != nil {
		return fmt.Errorf("deleting steps: %w", err)
	}
	if _, err := j.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Record plays a scripted action list through an environment and journals
// the transcript under a new session, one step row per turn with that turn's
// world diff. It returns the transcript it recorded; play stops early when
// the episode ends.
func (j *Journal) Record(e *env.Env, id, story string, seed int64, actions []string) ([]env.StepResult, error) {
	if err := j.BeginSession(Session{ID: id, Story: story, Seed: seed}); err != nil {
		return nil, err
	}
	var results []env.StepResult
	for i, a := range actions {
		obs, score, done, info, err := e.Step(a)
		if err != nil {
			return results, err
		}
		r := env.StepResult{Action: a, Observation: obs, Score: score, Moves: info.Moves, Done: done}
		results = append(results, r)
		step := Step{
			Idx:         i,
			Action:      a,
			Observation: obs,
			Score:       score,
			Moves:       info.Moves,
			Done:        done,
			Diff:        e.GetWorldDiff(),
		}
		if err := j.RecordStep(id, step); err != nil {
			return results, err
		}
		if done {
			break
		}
	}
	return results, nil
}

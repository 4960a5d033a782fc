// Package env wraps a zmachine.Machine in the reset/step interface agent
// harnesses expect: feed an action, get back the observation, the score and
// whether the episode ended, plus object-level views of the game world and
// both file and in-memory position saves.
//
// An Env owns its machine outright and is not safe for concurrent use.
// Instances share nothing mutable, so one environment per goroutine scales
// without locking.
package env

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chiijlaw/TextWorld/zmachine"
)

// ---------------------------------------------------------------------------
// Sentinel Errors
// ---------------------------------------------------------------------------

var (
	// ErrEpisodeOver rejects Step and Save once the episode has ended.
	// Reset, Load or LoadStr starts a fresh one.
	ErrEpisodeOver = errors.New("episode is over")

	// ErrNoPlayer reports that no object in the tree looks like the player,
	// so location and inventory queries cannot be answered.
	ErrNoPlayer = errors.New("player object not found")
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Config carries the tunables an environment is created with.
type Config struct {
	Seed      int64 // seed for the story's random opcode; a fixed seed replays identically
	Budget    int64 // instruction budget per Run and Feed, 0 for the machine default
	UndoSlots int   // save_undo ring depth, 0 for the machine default
}

// Env drives one story as an episodic environment. It keeps the previous
// step's dynamic memory for world-change detection and the located score and
// move cells for O(1) reads once introspection has pinned them down.
type Env struct {
	story *zmachine.Story
	cfg   Config
	m     *zmachine.Machine

	intro   introspection
	player  int // cached player object number, 0 until found
	prevMem []byte
	diff    []Change
	obs     string
	done    bool
}

// New builds an environment around a loaded story and boots it to the first
// input request. cfg may be nil for defaults.
func New(story *zmachine.Story, cfg *Config) (*Env, error) {
	e := &Env{story: story, intro: newIntrospection(story.Version)}
	if cfg != nil {
		e.cfg = *cfg
	}
	if _, err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// stories deduplicates loaded images process-wide. A Story is immutable and
// every machine copies it at boot, so parallel environments of the same game
// can share one entry.
var stories = zmachine.NewStoryCache()

// NewFromFile loads a story file and builds an environment around it. Loads
// go through a content-addressed cache, so constructing many parallel
// environments of the same story parses and holds its image once.
func NewFromFile(path string, cfg *Config) (*Env, error) {
	story, err := stories.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(story, cfg)
}

// ---------------------------------------------------------------------------
// Episode Control
// ---------------------------------------------------------------------------

// Info is the per-step metadata bundle returned by Step.
type Info struct {
	Moves int
	Score int
}

// Reset discards all machine state and replays the story from its entry
// point, returning the opening text. Located score and move cells and the
// cached maximum carry over; they are properties of the story, not of the
// episode. Values mined from a previous episode's text do not.
func (e *Env) Reset() (string, error) {
	e.m = zmachine.NewMachine(e.story, e.cfg.Seed)
	e.m.SetInstructionBudget(e.cfg.Budget)
	e.m.SetUndoSlots(e.cfg.UndoSlots)
	e.player = 0
	e.diff = nil
	e.intro.probeScore, e.intro.probeMoves = 0, 0
	if err := e.m.Run(); err != nil {
		e.done = true
		return "", err
	}
	e.obs = e.m.Drain()
	e.done = e.m.State() == zmachine.StateHalted || terminalText(e.obs)
	e.absorb(e.obs)
	if !e.done && !e.intro.located() {
		e.probe()
	}
	e.prevMem = e.m.DynamicMemory()
	return e.obs, nil
}

// Step feeds one action to the story and reports the turn: the text the game
// printed, the score, whether the episode ended, and the move counter. The
// world diff behind WorldChanged and GetWorldDiff is recomputed against the
// previous step's memory.
func (e *Env) Step(action string) (string, int, bool, Info, error) {
	if e.done {
		return "", 0, true, Info{}, ErrEpisodeOver
	}
	before := e.prevMem
	if err := e.m.Feed(action); err != nil {
		e.done = true
		return "", 0, true, Info{}, err
	}
	e.obs = e.m.Drain()
	e.done = e.m.State() == zmachine.StateHalted || terminalText(e.obs)
	e.absorb(e.obs)
	if !e.done && !e.intro.located() {
		e.probe()
	}
	score, moves := e.scoreMoves()
	after := e.m.DynamicMemory()
	e.diff = diffMemory(before, after, e.excludedSpans(after))
	e.prevMem = after
	return e.obs, score, e.done, Info{Moves: moves, Score: score}, nil
}

// ---------------------------------------------------------------------------
// Saved Positions
// ---------------------------------------------------------------------------

// Save writes the current position as a Quetzal file.
func (e *Env) Save(path string) error {
	if e.done {
		return ErrEpisodeOver
	}
	return e.m.SaveQuetzalFile(path)
}

// Load restores a position previously written by Save. A done episode comes
// back to life; the world-diff baseline resets to the restored memory.
func (e *Env) Load(path string) error {
	if err := e.m.RestoreQuetzalFile(path); err != nil {
		return err
	}
	return e.afterRestore()
}

// SaveStr returns the current position as an in-memory snapshot blob. The
// blob restores through LoadStr exactly as a Save file restores through
// Load.
func (e *Env) SaveStr() ([]byte, error) {
	if e.done {
		return nil, ErrEpisodeOver
	}
	return zmachine.MarshalSnapshot(e.m.Capture())
}

// LoadStr restores a position from a SaveStr blob.
func (e *Env) LoadStr(data []byte) error {
	snap, err := zmachine.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	if err := e.m.Restore(snap); err != nil {
		return err
	}
	return e.afterRestore()
}

// afterRestore resynchronizes the env with freshly restored machine state.
// Snapshots taken outside an input request resume execution up to the next
// one.
func (e *Env) afterRestore() error {
	e.done = false
	if e.m.State() == zmachine.StateRunning {
		if err := e.m.Run(); err != nil {
			e.done = true
			return err
		}
	}
	e.obs = e.m.Drain()
	e.done = e.m.State() == zmachine.StateHalted || terminalText(e.obs)
	e.diff = nil
	e.prevMem = e.m.DynamicMemory()
	return nil
}

// ---------------------------------------------------------------------------
// World Queries
// ---------------------------------------------------------------------------

// GetPlayerLocation returns the object containing the player.
func (e *Env) GetPlayerLocation() (zmachine.Object, error) {
	p, err := e.playerObject()
	if err != nil {
		return zmachine.Object{}, err
	}
	rec, err := e.m.ObjectRecord(p)
	if err != nil {
		return zmachine.Object{}, err
	}
	if rec.Parent == 0 {
		return zmachine.Object{}, fmt.Errorf("player object %d has no location", p)
	}
	return e.m.ObjectRecord(rec.Parent)
}

// GetInventory returns the objects the player directly carries.
func (e *Env) GetInventory() ([]zmachine.Object, error) {
	p, err := e.playerObject()
	if err != nil {
		return nil, err
	}
	nums, err := e.m.Children(p)
	if err != nil {
		return nil, err
	}
	out := make([]zmachine.Object, 0, len(nums))
	for _, n := range nums {
		rec, err := e.m.ObjectRecord(n)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetWorldObjects returns a record for every object in the tree.
func (e *Env) GetWorldObjects() ([]zmachine.Object, error) {
	return e.m.ObjectRecords()
}

// GetMaxScore returns the maximum score the game has disclosed, probing for
// one on the first call, or zero while the game keeps it to itself.
func (e *Env) GetMaxScore() int {
	if !e.intro.haveMax && !e.done {
		e.probe()
	}
	return e.intro.maxScore
}

// GetRAM returns a copy of dynamic memory.
func (e *Env) GetRAM() []byte { return e.m.DynamicMemory() }

// WorldChanged reports whether the last Step changed the world beyond the
// cosmetic regions: input buffers, the move counter, the status-line cells.
func (e *Env) WorldChanged() bool { return len(e.diff) > 0 }

// GetWorldDiff returns the last Step's world changes byte by byte.
func (e *Env) GetWorldDiff() []Change {
	return append([]Change(nil), e.diff...)
}

// GameOver reports whether the episode has ended.
func (e *Env) GameOver() bool { return e.done }

// Score returns the current score.
func (e *Env) Score() int {
	s, _ := e.scoreMoves()
	return s
}

// Moves returns the current move counter.
func (e *Env) Moves() int {
	_, m := e.scoreMoves()
	return m
}

// Observation returns the text printed by the most recent boot, step or
// restore.
func (e *Env) Observation() string { return e.obs }

// StatusLine exposes the v1-3 status bar model.
func (e *Env) StatusLine() zmachine.StatusLine { return e.m.StatusLine() }

// Story returns the loaded story image.
func (e *Env) Story() *zmachine.Story { return e.story }

// ---------------------------------------------------------------------------
// Scripted Play
// ---------------------------------------------------------------------------

// StepResult is one entry of a Walkthrough transcript.
type StepResult struct {
	Action      string
	Observation string
	Score       int
	Moves       int
	Done        bool
}

// Walkthrough plays a scripted action list from the current position and
// returns the transcript, stopping early when the episode ends.
func (e *Env) Walkthrough(actions []string) ([]StepResult, error) {
	out := make([]StepResult, 0, len(actions))
	for _, a := range actions {
		obs, score, done, info, err := e.Step(a)
		if err != nil {
			return out, err
		}
		out = append(out, StepResult{
			Action:      a,
			Observation: obs,
			Score:       score,
			Moves:       info.Moves,
			Done:        done,
		})
		if done {
			break
		}
	}
	return out, nil
}

// SplitActions splits a slash-separated walkthrough script into an action
// list, dropping empty segments.
func SplitActions(script string) []string {
	parts := strings.Split(script, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package env

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/chiijlaw/TextWorld/zmachine"
)

// ---------------------------------------------------------------------------
// Score & Move Cell Location
// ---------------------------------------------------------------------------

// introspection tracks where the running story keeps its score and move
// counter. Versions 1-3 reserve globals G1/G2 for the status line, so both
// cells are known from the start. Later versions keep them wherever the
// game's author put them; absorb narrows the candidate cells against the
// values the game itself prints until exactly one survives.
type introspection struct {
	scoreVar int // global index of the score cell, -1 while unlocated
	movesVar int // global index of the move counter, -1 while unlocated

	scoreCands map[int]bool // surviving candidate cells, nil before the first sighting
	movesCands map[int]bool

	maxScore int
	haveMax  bool

	probeScore int // values mined from the latest score text, served while unlocated
	probeMoves int
}

func newIntrospection(version byte) introspection {
	in := introspection{scoreVar: -1, movesVar: -1}
	if version <= 3 {
		in.scoreVar, in.movesVar = 1, 2
	}
	return in
}

func (in *introspection) located() bool {
	return in.scoreVar >= 0 && in.movesVar >= 0
}

// The phrasings score commands and end-of-game banners use. The classic
// library prints "You have so far scored 5 out of a possible 550, in 2
// turns."; the older house style is "Your score is 5 (total of 350 points),
// in 2 moves."
var (
	scorePossibleRE = regexp.MustCompile(`(?i)scored\s+(-?\d+)\s+out of a possible\s+(\d+)`)
	scoreTotalRE    = regexp.MustCompile(`(?i)score is\s+(-?\d+)\s+\(total of\s+(\d+)\s+points`)
	scorePlainRE    = regexp.MustCompile(`(?i)\b(?:your score is|scored)\s+(-?\d+)`)
	movesRE         = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(?:turn|move)`)
)

// parseScoreText mines a piece of game text for score facts. max is zero
// when the text does not disclose a maximum.
func parseScoreText(text string) (score, max, moves int, okScore, okMoves bool) {
	if m := scorePossibleRE.FindStringSubmatch(text); m != nil {
		score, _ = strconv.Atoi(m[1])
		max, _ = strconv.Atoi(m[2])
		okScore = true
	} else if m := scoreTotalRE.FindStringSubmatch(text); m != nil {
		score, _ = strconv.Atoi(m[1])
		max, _ = strconv.Atoi(m[2])
		okScore = true
	} else if m := scorePlainRE.FindStringSubmatch(text); m != nil {
		score, _ = strconv.Atoi(m[1])
		okScore = true
	}
	if m := movesRE.FindStringSubmatch(text); m != nil {
		moves, _ = strconv.Atoi(m[1])
		okMoves = true
	}
	return score, max, moves, okScore, okMoves
}

// absorb feeds one piece of game text through the score parser: it caches a
// disclosed maximum and, while cells are unlocated, intersects the global
// table against the printed values. A cell cannot serve both roles; when the
// printed values coincide and the scan collapses to one global, the move
// counter keeps it and the score goes back to searching, since only the
// counter provably changes every turn.
func (e *Env) absorb(text string) {
	score, max, moves, okScore, okMoves := parseScoreText(text)
	if max > 0 {
		e.intro.maxScore = max
		e.intro.haveMax = true
	}
	if okScore {
		e.intro.probeScore = score
		if e.intro.scoreVar < 0 {
			e.intro.scoreCands = intersect(e.intro.scoreCands, e.matchingGlobals(uint16(int16(score))))
			if g, ok := single(e.intro.scoreCands); ok {
				e.intro.scoreVar = g
			}
		}
	}
	if okMoves {
		e.intro.probeMoves = moves
		if e.intro.movesVar < 0 {
			e.intro.movesCands = intersect(e.intro.movesCands, e.matchingGlobals(uint16(moves)))
			if g, ok := single(e.intro.movesCands); ok {
				e.intro.movesVar = g
			}
		}
	}
	if e.intro.scoreVar >= 0 && e.intro.scoreVar == e.intro.movesVar {
		e.intro.scoreVar = -1
		e.intro.scoreCands = nil
	}
}

// probe asks the running game for its score without the caller ever seeing
// it: capture, feed the score command, mine the reply, rewind. Games whose
// parser rejects the command leave the cells unlocated for the next attempt.
func (e *Env) probe() {
	if e.m.State() != zmachine.StateWaitingForInput {
		return
	}
	snap := e.m.Capture()
	if err := e.m.Feed("score"); err == nil {
		e.absorb(e.m.Drain())
	} else {
		e.m.Drain()
	}
	// A snapshot captured from the same machine always restores.
	_ = e.m.Restore(snap)
}

// scoreMoves reads the current score and move counter: located cells when
// known, otherwise the values most recently mined from game text.
func (e *Env) scoreMoves() (score, moves int) {
	score, moves = e.intro.probeScore, e.intro.probeMoves
	if e.intro.scoreVar >= 0 {
		score = int(int16(e.m.ReadGlobal(e.intro.scoreVar)))
	}
	if e.intro.movesVar >= 0 {
		moves = int(e.m.ReadGlobal(e.intro.movesVar))
	}
	return score, moves
}

// matchingGlobals scans the 240 globals for cells holding the given value.
func (e *Env) matchingGlobals(want uint16) map[int]bool {
	out := make(map[int]bool)
	for g := 0; g < 240; g++ {
		if e.m.ReadGlobal(g) == want {
			out[g] = true
		}
	}
	return out
}

// intersect narrows prev by next. A nil prev means no sighting yet, and an
// empty intersection means the earlier sighting was flavor text that only
// looked like a score line; both fall back to the fresh scan.
func intersect(prev, next map[int]bool) map[int]bool {
	if prev == nil {
		return next
	}
	out := make(map[int]bool)
	for g := range next {
		if prev[g] {
			out[g] = true
		}
	}
	if len(out) == 0 {
		return next
	}
	return out
}

func single(set map[int]bool) (int, bool) {
	if len(set) != 1 {
		return 0, false
	}
	for g := range set {
		return g, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// World-Change Detection
// ---------------------------------------------------------------------------

// Change is one mutated byte of dynamic memory.
type Change struct {
	Offset int
	Old    byte
	New    byte
}

// span is a half-open byte range [lo, hi).
type span struct{ lo, hi int }

func (s span) contains(i int) bool { return i >= s.lo && i < s.hi }

// flags2Addr is the header word whose low bits games and interpreter toggle
// for stream and font control; it says nothing about the world.
const flags2Addr = 0x10

// excludedSpans lists the dynamic-memory regions the world diff ignores:
// the header scratch word, the text and parse buffers of the last read, the
// status-line globals on v1-3, and the located move counter.
func (e *Env) excludedSpans(mem []byte) []span {
	spans := []span{{flags2Addr, flags2Addr + 2}}
	if text, parse, ok := e.m.LastReadBuffers(); ok {
		if int(text) < len(mem) {
			spans = append(spans, span{int(text), int(text) + 2 + int(mem[text])})
		}
		if parse != 0 && int(parse) < len(mem) {
			spans = append(spans, span{int(parse), int(parse) + 2 + 4*int(mem[parse])})
		}
	}
	glb := int(e.story.Globals)
	if e.story.Version <= 3 {
		spans = append(spans, span{glb, glb + 6})
	}
	if e.intro.movesVar >= 0 {
		at := glb + 2*e.intro.movesVar
		spans = append(spans, span{at, at + 2})
	}
	return spans
}

// diffMemory compares two dynamic-memory images byte by byte, skipping the
// excluded spans.
func diffMemory(before, after []byte, excluded []span) []Change {
	var out []Change
	n := len(before)
	if len(after) < n {
		n = len(after)
	}
outer:
	for i := 0; i < n; i++ {
		if before[i] == after[i] {
			continue
		}
		for _, s := range excluded {
			if s.contains(i) {
				continue outer
			}
		}
		out = append(out, Change{Offset: i, Old: before[i], New: after[i]})
	}
	return out
}

// ---------------------------------------------------------------------------
// End-of-Game Detection
// ---------------------------------------------------------------------------

// Stories end in one of two ways: the quit opcode halts the machine, or the
// game prints a banner and loops on a restart prompt. The banner family
// covers "*** You have died ***" and its relatives in both the three- and
// four-star typesettings; the prompt pattern catches games that skip the
// banner.
var terminalREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*{2,}\s*(?:you have (?:died|won|lost)|you win|you lose|game over|the end)\s*\*{2,}`),
	regexp.MustCompile(`(?i)\brestart\b.{0,60}\brestore\b`),
}

// terminalText reports whether a piece of output announces the end of the
// game.
func terminalText(text string) bool {
	for _, re := range terminalREs {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Player Location
// ---------------------------------------------------------------------------

// playerNames are the short names games conventionally give the player
// object.
var playerNames = map[string]bool{
	"you": true, "yourself": true, "cretin": true, "player": true,
	"self": true, "me": true, "adventurer": true,
}

// playerObject finds and caches the object standing for the player: first by
// conventional short name, then on v1-3 by falling back to the first child
// of the status-line location, which is where those games keep the
// protagonist. Object numbers never change, so a name hit is cached.
func (e *Env) playerObject() (int, error) {
	if e.player != 0 {
		return e.player, nil
	}
	records, err := e.m.ObjectRecords()
	if err != nil {
		return 0, err
	}
	for _, o := range records {
		if playerNames[strings.ToLower(strings.TrimSpace(o.Name))] {
			e.player = o.Num
			return o.Num, nil
		}
	}
	if e.story.Version <= 3 {
		if loc := int(e.m.ReadGlobal(0)); loc > 0 {
			kids, err := e.m.Children(loc)
			if err == nil && len(kids) > 0 {
				// A guess tied to the current room; not cached.
				return kids[0], nil
			}
		}
	}
	return 0, ErrNoPlayer
}

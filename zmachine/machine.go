package zmachine

import (
	"bytes"
	"fmt"
)

// ---------------------------------------------------------------------------
// Machine State
// ---------------------------------------------------------------------------

// State describes what a Machine is doing between calls.
type State int

const (
	// StateRunning is only observable inside Run; the machine never returns
	// control while in it.
	StateRunning State = iota
	// StateWaitingForInput means an input opcode is blocked on Feed.
	StateWaitingForInput
	// StateHalted means the story quit. Only Reset or a snapshot restore
	// resumes play.
	StateHalted
	// StateFatal means a FatalError stopped execution.
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateWaitingForInput:
		return "waiting-for-input"
	case StateHalted:
		return "halted"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultInstructionBudget bounds a single Run or Feed call. Legitimate
// story computation between inputs is far below this; exceeding it means a
// runaway or malicious story file.
const DefaultInstructionBudget = 10_000_000

// Call stack bounds. Well-formed stories nest a few dozen routines deep.
const (
	maxCallDepth = 1024
	maxEvalDepth = 4096
)

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is one Z-machine interpreter instance: the writable memory image,
// the call stack, the program counter, and the I/O state driven by the
// opcode loop. A Machine is not safe for concurrent use; independent
// instances share nothing mutable and may run in parallel.
type Machine struct {
	story *Story
	mem   []byte

	pc     uint32
	frames []frame
	state  State
	fatal  *FatalError

	rng countingSource

	// Instruction budget per Run/Feed call, and the countdown for the call
	// in progress.
	budget    int64
	remaining int64

	// Decoded position of the instruction being executed, for diagnostics.
	curPC uint32
	curOp string

	out     bytes.Buffer // accumulated stream-1 text since the last Drain
	streams streamState
	status  StatusLine
	pending *pendingInput

	// Buffers of the most recent completed line read, kept for the world
	// diff's cosmetic exclusions.
	lastText  uint32
	lastParse uint32

	undo undoRing

	saveHandler    SaveHandler
	restoreHandler RestoreHandler

	dict *Dictionary
}

// NewMachine builds a fresh interpreter for the story. A non-zero seed puts
// the random-number generator in deterministic mode; seed 0 draws an entropy
// seed at construction (still recorded, so snapshots restore it exactly).
func NewMachine(story *Story, seed int64) *Machine {
	m := &Machine{
		story:  story,
		budget: DefaultInstructionBudget,
	}
	m.rng.reset(seed)
	m.bootstrap()
	return m
}

// bootstrap (re)initializes memory, stack, and I/O from the pristine image.
func (m *Machine) bootstrap() {
	m.mem = append(m.mem[:0], m.story.data...)
	m.frames = append(m.frames[:0], m.topFrame())
	m.pc = m.story.InitialPC
	m.state = StateRunning
	m.fatal = nil
	m.out.Reset()
	m.streams = streamState{transcript: true}
	m.status = StatusLine{}
	m.pending = nil
	m.lastText, m.lastParse = 0, 0
	m.undo = undoRing{}
	m.dict = nil
	m.writeInterpreterID()
}

// Reset discards all play state and returns the machine to the story's
// initial program counter. The RNG keeps its configured seed and is rewound,
// so a reset replay is deterministic.
func (m *Machine) Reset() {
	m.rng.rewind()
	m.bootstrap()
}

// topFrame builds the call frame execution starts in. Version 6 boots by
// calling a main routine, so its locals live here; the count byte precedes
// the initial PC.
func (m *Machine) topFrame() frame {
	top := frame{resultVar: -1}
	if m.story.Version == 6 {
		if n := m.story.data[m.story.InitialPC-1]; n <= 15 {
			top.locals = make([]uint16, n)
		}
	}
	return top
}

// writeInterpreterID fills the header fields an interpreter is required to
// set before execution: interpreter number/version, screen geometry, and the
// standard revision word.
func (m *Machine) writeInterpreterID() {
	const (
		interpreterNum = 6 // "IBM PC" by convention, what most cores report
		screenRows     = 255
		screenCols     = 80
	)
	m.mem[hdrInterpNum] = interpreterNum
	m.mem[hdrInterpVer] = 'Z'
	m.mem[hdrScreenRows] = screenRows
	m.mem[hdrScreenCols] = screenCols
	if m.story.Version >= 5 {
		// Screen size in units; one unit per character cell.
		m.mem[0x22] = 0
		m.mem[0x23] = screenCols
		m.mem[0x24] = 0
		m.mem[0x25] = screenRows
		m.mem[0x26] = 1
		m.mem[0x27] = 1
	}
	m.mem[hdrStandardRev] = 1
	m.mem[hdrStandardRev+1] = 1
	// Flags1 capability bits. Text-only core: status line yes (v1-3), no
	// screen splitting, no colour, pictures, styled text, sound, or timers.
	if m.story.Version <= 3 {
		m.mem[hdrFlags1] &^= 0x10 | 0x20 | 0x40
	} else {
		m.mem[hdrFlags1] &^= 0x01 | 0x02 | 0x04 | 0x08 | 0x20 | 0x80
		m.mem[hdrFlags1] |= 0x10 // fixed-space font available
	}
}

// Story returns the immutable story image this machine runs.
func (m *Machine) Story() *Story { return m.story }

// State reports what the machine is waiting on.
func (m *Machine) State() State { return m.state }

// FatalCause returns the FatalError that stopped the machine, if any.
func (m *Machine) FatalCause() *FatalError { return m.fatal }

// SetInstructionBudget replaces the per-call instruction cap. Zero or
// negative restores the default.
func (m *Machine) SetInstructionBudget(n int64) {
	if n <= 0 {
		n = DefaultInstructionBudget
	}
	m.budget = n
}

// Drain returns the stream-1 text produced since the previous Drain and
// clears the buffer.
func (m *Machine) Drain() string {
	s := m.out.String()
	m.out.Reset()
	return s
}

// ---------------------------------------------------------------------------
// Execution Boundary
// ---------------------------------------------------------------------------

// Run executes from the current program counter until the story blocks on
// input, halts, or faults. It is the only place fatal panics from the
// executor are recovered.
func (m *Machine) Run() (err error) {
	defer m.recoverFatal(&err)
	switch m.state {
	case StateHalted:
		return ErrMachineHalted
	case StateFatal:
		return m.fatal
	case StateWaitingForInput:
		return fmt.Errorf("machine is waiting for input, call Feed")
	}
	m.loop()
	return nil
}

// Feed completes the pending input request with the player's text and
// resumes execution until the next input request, halt, or fault.
func (m *Machine) Feed(text string) (err error) {
	defer m.recoverFatal(&err)
	switch m.state {
	case StateHalted:
		return ErrMachineHalted
	case StateFatal:
		return m.fatal
	case StateRunning:
		return ErrNotWaitingForInput
	}
	if m.pending == nil {
		return ErrNotWaitingForInput
	}
	m.acceptInput(text)
	m.state = StateRunning
	m.loop()
	return nil
}

// restart implements the restart opcode: pristine dynamic memory, fresh
// control state. The two transcription bits of Flags2 survive, as the
// format requires. The RNG and undo history are left alone.
func (m *Machine) restart() {
	flags2 := m.readWord(hdrFlags2) & 0x3
	m.mem = append(m.mem[:0], m.story.data...)
	m.writeWord(hdrFlags2, m.readWord(hdrFlags2)&^0x3|flags2)
	m.writeInterpreterID()
	m.frames = append(m.frames[:0], m.topFrame())
	m.pc = m.story.InitialPC
	m.streams = streamState{transcript: true}
	m.status = StatusLine{}
	m.pending = nil
	m.lastText, m.lastParse = 0, 0
	m.dict = nil
}

// loop is the fetch-decode-execute cycle. It leaves the machine in
// StateWaitingForInput or StateHalted; faults unwind as *FatalError panics.
func (m *Machine) loop() {
	m.remaining = m.budget
	var in instruction
	for m.state == StateRunning {
		if m.remaining--; m.remaining < 0 {
			m.fatalf("instruction budget of %d exceeded", m.budget)
		}
		m.curPC = m.pc
		m.curOp = ""
		m.decode(&in)
		m.curOp = in.name()
		m.pc = in.next
		m.execute(&in)
	}
}

package zmachine

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Snapshot is a self-contained capture of resumable machine state: the
// dynamic memory image, the call stack, the program counter, and the RNG
// position, fingerprinted against the story that produced it.
//
// Two snapshot flavours exist. Saves taken by the story's own save opcodes
// record the program counter at the instruction's store/branch data, per the
// Quetzal convention that restoring re-reads those bytes to report result 2.
// Saves taken between steps (the environment facade's Save/SaveStr) record a
// blocked input request instead, so the restored machine is again waiting
// for the same read.
type Snapshot struct {
	Release  uint16 `cbor:"release"`
	Serial   []byte `cbor:"serial"`
	Checksum uint16 `cbor:"checksum"`

	PC     uint32          `cbor:"pc"`
	Memory []byte          `cbor:"memory"`
	Frames []SnapshotFrame `cbor:"frames"`

	RNGSeed  int64  `cbor:"rngseed"`
	RNGDraws uint64 `cbor:"rngdraws"`

	Pending *PendingRead `cbor:"pending,omitempty"`
}

// SnapshotFrame is one call frame in portable form.
type SnapshotFrame struct {
	RetPC     uint32   `cbor:"ret"`
	ResultVar int16    `cbor:"result"` // -1 discards
	Locals    []uint16 `cbor:"locals"`
	Args      int      `cbor:"args"`
	Stack     []uint16 `cbor:"stack"`
}

// PendingRead records a blocked input request inside a facade snapshot.
type PendingRead struct {
	Char  bool   `cbor:"char"`
	Text  uint32 `cbor:"text"`
	Parse uint32 `cbor:"parse"`
	Store int16  `cbor:"store"` // -1 when the read stores nothing
}

// captureAt builds a snapshot with an explicit resume point; the save
// opcodes pass their store/branch address.
func (m *Machine) captureAt(pc uint32) *Snapshot {
	seed, draws := m.rng.state()
	snap := &Snapshot{
		Release:  m.story.Release,
		Serial:   append([]byte(nil), m.story.Serial[:]...),
		Checksum: m.story.Checksum,
		PC:       pc,
		Memory:   m.DynamicMemory(),
		Frames:   make([]SnapshotFrame, len(m.frames)),
		RNGSeed:  seed,
		RNGDraws: draws,
	}
	for i, f := range m.frames {
		snap.Frames[i] = SnapshotFrame{
			RetPC:     f.retPC,
			ResultVar: int16(f.resultVar),
			Locals:    append([]uint16(nil), f.locals...),
			Args:      f.args,
			Stack:     append([]uint16(nil), f.stack...),
		}
	}
	return snap
}

// Capture snapshots the machine between steps. A pending input request is
// recorded so restoring resumes the same read.
func (m *Machine) Capture() *Snapshot {
	snap := m.captureAt(m.pc)
	if m.pending != nil {
		store := int16(-1)
		if m.pending.hasStore {
			store = int16(m.pending.storeVar)
		}
		snap.Pending = &PendingRead{
			Char:  m.pending.kind == inputChar,
			Text:  m.pending.text,
			Parse: m.pending.parse,
			Store: store,
		}
	}
	return snap
}

// Restore replaces machine state with the snapshot's. The snapshot must
// fingerprint the loaded story; on mismatch the machine is untouched.
func (m *Machine) Restore(snap *Snapshot) error {
	if err := m.checkSnapshot(snap); err != nil {
		return err
	}

	copy(m.mem[:m.dynamicSize()], snap.Memory)
	m.writeInterpreterID()
	m.frames = m.frames[:0]
	for _, f := range snap.Frames {
		m.frames = append(m.frames, frame{
			retPC:     f.RetPC,
			resultVar: int(f.ResultVar),
			locals:    append([]uint16(nil), f.Locals...),
			args:      f.Args,
			stack:     append([]uint16(nil), f.Stack...),
		})
	}
	m.pc = snap.PC
	if snap.RNGSeed != 0 || snap.RNGDraws != 0 {
		m.rng.restoreState(snap.RNGSeed, snap.RNGDraws)
	}
	m.streams = streamState{transcript: true}
	m.fatal = nil
	m.dict = nil

	if snap.Pending != nil {
		kind := inputLine
		if snap.Pending.Char {
			kind = inputChar
		}
		m.pending = &pendingInput{
			kind:     kind,
			text:     snap.Pending.Text,
			parse:    snap.Pending.Parse,
			storeVar: int(snap.Pending.Store),
			hasStore: snap.Pending.Store >= 0,
		}
		m.state = StateWaitingForInput
	} else {
		m.pending = nil
		m.state = StateRunning
	}
	return nil
}

// checkSnapshot verifies the story fingerprint and shape.
func (m *Machine) checkSnapshot(snap *Snapshot) error {
	if snap.Release != m.story.Release {
		return fmt.Errorf("%w: release %d, story has %d", ErrSnapshotMismatch, snap.Release, m.story.Release)
	}
	if string(snap.Serial) != string(m.story.Serial[:]) {
		return fmt.Errorf("%w: serial %q, story has %q", ErrSnapshotMismatch, snap.Serial, m.story.Serial)
	}
	if snap.Checksum != m.story.Checksum {
		return fmt.Errorf("%w: checksum %#x, story has %#x", ErrSnapshotMismatch, snap.Checksum, m.story.Checksum)
	}
	if len(snap.Memory) != m.dynamicSize() {
		return fmt.Errorf("%w: %d bytes of dynamic memory, story has %d", ErrCorruptSnapshot, len(snap.Memory), m.dynamicSize())
	}
	if len(snap.Frames) == 0 {
		return fmt.Errorf("%w: no call frames", ErrCorruptSnapshot)
	}
	return nil
}

// applySavedResult re-reads the store or branch data the program counter
// rests on after an in-game restore, reporting val (2, or 0/1 for save
// itself) the way the original save instruction would have.
func (m *Machine) applySavedResult(val uint16) {
	if m.story.Version >= 4 {
		v := int(m.readByte(m.pc))
		m.pc++
		m.writeVariable(v, val, false)
		return
	}
	b1 := m.readByte(m.pc)
	m.pc++
	branchOn := b1&0x80 != 0
	var offset int16
	if b1&0x40 != 0 {
		offset = int16(b1 & 0x3F)
	} else {
		raw := uint16(b1&0x3F)<<8 | uint16(m.readByte(m.pc))
		m.pc++
		if raw&0x2000 != 0 {
			raw |= 0xC000
		}
		offset = int16(raw)
	}
	if (val != 0) != branchOn {
		return
	}
	switch offset {
	case 0:
		m.popFrame(0)
	case 1:
		m.popFrame(1)
	default:
		m.pc = offsetPC(m.pc, offset)
	}
}

// saveResult reports a save opcode's outcome through its branch (v1-3) or
// store (v4) suffix.
func (m *Machine) saveResult(in *instruction, val uint16) {
	if in.hasStore {
		m.store(in, val)
		return
	}
	m.branch(in, val != 0)
}

// ---------------------------------------------------------------------------
// In-Game Save Hooks
// ---------------------------------------------------------------------------

// SaveHandler receives the snapshot taken by an in-game save opcode.
type SaveHandler func(*Snapshot) error

// RestoreHandler supplies the snapshot for an in-game restore opcode.
type RestoreHandler func() (*Snapshot, error)

// SetSaveHandler installs the in-game save hook. Without one, the save
// opcodes report failure to the story.
func (m *Machine) SetSaveHandler(h SaveHandler) { m.saveHandler = h }

// SetRestoreHandler installs the in-game restore hook.
func (m *Machine) SetRestoreHandler(h RestoreHandler) { m.restoreHandler = h }

func (m *Machine) requestSave(in *instruction) uint16 {
	if m.saveHandler == nil {
		return 0
	}
	if err := m.saveHandler(m.captureAt(in.suffixAddr)); err != nil {
		return 0
	}
	return 1
}

func (m *Machine) requestRestore() bool {
	if m.restoreHandler == nil {
		return false
	}
	snap, err := m.restoreHandler()
	if err != nil || snap == nil {
		return false
	}
	if err := m.Restore(snap); err != nil {
		return false
	}
	if snap.Pending == nil {
		m.applySavedResult(2)
	}
	return true
}

// ---------------------------------------------------------------------------
// Buffer Encoding
// ---------------------------------------------------------------------------

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("zmachine: cbor encode mode: " + err.Error())
	}
	cborEncMode = em
}

// MarshalSnapshot encodes a snapshot canonically; identical states produce
// identical bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	data, err := cborEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("zmachine: marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &s, nil
}

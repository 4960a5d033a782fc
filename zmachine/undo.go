package zmachine

// ---------------------------------------------------------------------------
// Undo
// ---------------------------------------------------------------------------

// DefaultUndoSlots bounds the in-memory undo ring. Stories using save_undo
// take one slot per turn; older states fall off the end.
const DefaultUndoSlots = 10

// undoRing holds the save_undo history, newest last.
type undoRing struct {
	cap   int // 0 means DefaultUndoSlots
	slots []*Snapshot
}

func (u *undoRing) limit() int {
	if u.cap > 0 {
		return u.cap
	}
	return DefaultUndoSlots
}

func (u *undoRing) push(s *Snapshot) {
	if len(u.slots) >= u.limit() {
		copy(u.slots, u.slots[1:])
		u.slots = u.slots[:len(u.slots)-1]
	}
	u.slots = append(u.slots, s)
}

func (u *undoRing) pop() *Snapshot {
	if len(u.slots) == 0 {
		return nil
	}
	s := u.slots[len(u.slots)-1]
	u.slots = u.slots[:len(u.slots)-1]
	return s
}

// SetUndoSlots resizes the undo ring. n <= 0 restores the default; existing
// history beyond the new bound falls off the old end.
func (m *Machine) SetUndoSlots(n int) {
	if n <= 0 {
		n = 0
	}
	m.undo.cap = n
	for len(m.undo.slots) > m.undo.limit() {
		copy(m.undo.slots, m.undo.slots[1:])
		m.undo.slots = m.undo.slots[:len(m.undo.slots)-1]
	}
}

// saveUndo implements the save_undo opcode: capture with the Quetzal resume
// rule and report success.
func (m *Machine) saveUndo(in *instruction) uint16 {
	m.undo.push(m.captureAt(in.suffixAddr))
	return 1
}

// restoreUndo pops the newest undo state and resumes it; the interrupted
// save_undo reports 2 from the restored world.
func (m *Machine) restoreUndo() bool {
	snap := m.undo.pop()
	if snap == nil {
		return false
	}
	if err := m.Restore(snap); err != nil {
		return false
	}
	m.applySavedResult(2)
	return true
}

package zmachine

// ---------------------------------------------------------------------------
// Call Frames
// ---------------------------------------------------------------------------

// frame is one outstanding routine activation: where to return, where the
// result goes, the routine's locals, and its private evaluation stack
// segment. Frame zero is the story's top level; it has no locals and never
// returns.
type frame struct {
	retPC     uint32
	resultVar int // variable number for the result, -1 to discard
	locals    []uint16
	args      int // count of arguments actually supplied
	stack     []uint16
}

func (m *Machine) curFrame() *frame {
	return &m.frames[len(m.frames)-1]
}

// push puts a word on the current frame's evaluation stack.
func (m *Machine) push(v uint16) {
	f := m.curFrame()
	if len(f.stack) >= maxEvalDepth {
		m.fatalf("evaluation stack overflow (%d words)", maxEvalDepth)
	}
	f.stack = append(f.stack, v)
}

// pop removes and returns the top of the current frame's evaluation stack.
func (m *Machine) pop() uint16 {
	f := m.curFrame()
	if len(f.stack) == 0 {
		m.fatalf("evaluation stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// pushFrame enters a routine. locals carries the routine's initialized
// local variables (arguments already merged in).
func (m *Machine) pushFrame(retPC uint32, resultVar int, locals []uint16, args int) {
	if len(m.frames) >= maxCallDepth {
		m.fatalf("call stack overflow (%d frames)", maxCallDepth)
	}
	m.frames = append(m.frames, frame{
		retPC:     retPC,
		resultVar: resultVar,
		locals:    locals,
		args:      args,
	})
}

// popFrame leaves the current routine and stores its result.
func (m *Machine) popFrame(result uint16) {
	if len(m.frames) <= 1 {
		m.fatalf("return from the top-level frame")
	}
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	m.pc = f.retPC
	if f.resultVar >= 0 {
		m.writeVariable(f.resultVar, result, false)
	}
}

// unwindTo drops frames until exactly depth remain. throw uses it with a
// frame cookie from catch.
func (m *Machine) unwindTo(depth int) {
	if depth < 1 || depth > len(m.frames) {
		m.fatalf("throw to invalid frame %d of %d", depth, len(m.frames))
	}
	m.frames = m.frames[:depth]
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// readVariable fetches variable v: 0 is the evaluation stack, 1-15 the
// current routine's locals, 16-255 the globals. Indirect reference semantics
// (the load, store, inc, dec, inc_chk, dec_chk and pull opcodes naming the
// stack) peek at the stack top in place instead of popping.
func (m *Machine) readVariable(v int, indirect bool) uint16 {
	switch {
	case v == 0:
		if indirect {
			f := m.curFrame()
			if len(f.stack) == 0 {
				m.fatalf("indirect read from empty stack")
			}
			return f.stack[len(f.stack)-1]
		}
		return m.pop()
	case v < 16:
		f := m.curFrame()
		if v > len(f.locals) {
			m.fatalf("read of local %d, routine has %d", v, len(f.locals))
		}
		return f.locals[v-1]
	case v < 256:
		return m.readWord(m.globalAddr(v - 16))
	default:
		m.fatalf("read of variable %d out of range", v)
		return 0
	}
}

// writeVariable stores to variable v with the same numbering; indirect
// stores to the stack overwrite the top in place.
func (m *Machine) writeVariable(v int, val uint16, indirect bool) {
	switch {
	case v == 0:
		if indirect {
			f := m.curFrame()
			if len(f.stack) == 0 {
				m.fatalf("indirect write to empty stack")
			}
			f.stack[len(f.stack)-1] = val
			return
		}
		m.push(val)
	case v < 16:
		f := m.curFrame()
		if v > len(f.locals) {
			m.fatalf("write of local %d, routine has %d", v, len(f.locals))
		}
		f.locals[v-1] = val
	case v < 256:
		m.writeWord(m.globalAddr(v-16), val)
	default:
		m.fatalf("write of variable %d out of range", v)
	}
}

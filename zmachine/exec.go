package zmachine

// execute runs one decoded instruction. The program counter already points
// at the following instruction; branch, call, and return operations move it.
// All story arithmetic is 16-bit two's-complement and wraps on overflow.
func (m *Machine) execute(in *instruction) {
	ops := in.operands[:in.n]
	switch in.op {

	// -----------------------------------------------------------------------
	// Branches and Comparisons
	// -----------------------------------------------------------------------

	case OpJE:
		cond := false
		for _, v := range ops[1:] {
			if v == ops[0] {
				cond = true
				break
			}
		}
		m.branch(in, cond)

	case OpJL:
		m.branch(in, int16(ops[0]) < int16(ops[1]))

	case OpJG:
		m.branch(in, int16(ops[0]) > int16(ops[1]))

	case OpJZ:
		m.branch(in, ops[0] == 0)

	case OpDecChk:
		v := int16(m.readVariable(int(ops[0]), true)) - 1
		m.writeVariable(int(ops[0]), uint16(v), true)
		m.branch(in, v < int16(ops[1]))

	case OpIncChk:
		v := int16(m.readVariable(int(ops[0]), true)) + 1
		m.writeVariable(int(ops[0]), uint16(v), true)
		m.branch(in, v > int16(ops[1]))

	case OpJIn:
		m.branch(in, m.objParent(ops[0]) == ops[1])

	case OpTest:
		m.branch(in, ops[0]&ops[1] == ops[1])

	case OpJump:
		m.pc = offsetPC(in.next, int16(ops[0]))

	// -----------------------------------------------------------------------
	// Arithmetic and Logic
	// -----------------------------------------------------------------------

	case OpAdd:
		m.store(in, uint16(int16(ops[0])+int16(ops[1])))

	case OpSub:
		m.store(in, uint16(int16(ops[0])-int16(ops[1])))

	case OpMul:
		m.store(in, uint16(int16(ops[0])*int16(ops[1])))

	case OpDiv:
		if ops[1] == 0 {
			m.fatalf("division by zero")
		}
		m.store(in, uint16(int16(ops[0])/int16(ops[1])))

	case OpMod:
		if ops[1] == 0 {
			m.fatalf("modulo by zero")
		}
		m.store(in, uint16(int16(ops[0])%int16(ops[1])))

	case OpOr:
		m.store(in, ops[0]|ops[1])

	case OpAnd:
		m.store(in, ops[0]&ops[1])

	case OpNot, OpNotVar:
		m.store(in, ^ops[0])

	case OpLogShift:
		m.store(in, logShift(ops[0], int16(ops[1])))

	case OpArtShift:
		m.store(in, artShift(ops[0], int16(ops[1])))

	// -----------------------------------------------------------------------
	// Variables and Memory
	// -----------------------------------------------------------------------

	case OpStore:
		m.writeVariable(int(ops[0]), ops[1], true)

	case OpLoad:
		m.store(in, m.readVariable(int(ops[0]), true))

	case OpInc:
		m.writeVariable(int(ops[0]), uint16(int16(m.readVariable(int(ops[0]), true))+1), true)

	case OpDec:
		m.writeVariable(int(ops[0]), uint16(int16(m.readVariable(int(ops[0]), true))-1), true)

	case OpLoadW:
		m.store(in, m.readWord(uint32(ops[0]+2*ops[1])))

	case OpLoadB:
		m.store(in, uint16(m.readByte(uint32(ops[0]+ops[1]))))

	case OpStoreW:
		m.writeWord(uint32(ops[0]+2*ops[1]), ops[2])

	case OpStoreB:
		m.writeByte(uint32(ops[0]+ops[1]), byte(ops[2]))

	case OpPush:
		m.push(ops[0])

	case OpPull:
		if m.story.Version == 6 {
			m.store(in, m.pop())
		} else {
			m.writeVariable(int(ops[0]), m.pop(), true)
		}

	case OpPop:
		m.pop()

	// -----------------------------------------------------------------------
	// Calls and Returns
	// -----------------------------------------------------------------------

	case OpCallVS, OpCallVS2, OpCall2S, OpCall1S:
		m.call(ops[0], ops[1:], in.storeVar)

	case OpCallVN, OpCallVN2, OpCall2N, OpCall1N:
		m.call(ops[0], ops[1:], -1)

	case OpRet:
		m.popFrame(ops[0])

	case OpRTrue:
		m.popFrame(1)

	case OpRFalse:
		m.popFrame(0)

	case OpRetPopped:
		m.popFrame(m.pop())

	case OpCheckArgCount:
		m.branch(in, int(ops[0]) <= m.curFrame().args)

	case OpCatch:
		m.store(in, uint16(len(m.frames)))

	case OpThrow:
		m.unwindTo(int(ops[1]))
		m.popFrame(ops[0])

	// -----------------------------------------------------------------------
	// Objects
	// -----------------------------------------------------------------------

	case OpTestAttr:
		m.branch(in, m.objTestAttr(ops[0], ops[1]))

	case OpSetAttr:
		m.objSetAttr(ops[0], ops[1], true)

	case OpClearAttr:
		m.objSetAttr(ops[0], ops[1], false)

	case OpInsertObj:
		m.objInsert(ops[0], ops[1])

	case OpRemoveObj:
		m.objRemove(ops[0])

	case OpGetParent:
		m.store(in, m.objParent(ops[0]))

	case OpGetSibling:
		s := m.objSibling(ops[0])
		m.store(in, s)
		m.branch(in, s != 0)

	case OpGetChild:
		c := m.objChild(ops[0])
		m.store(in, c)
		m.branch(in, c != 0)

	case OpGetProp:
		m.store(in, m.objProp(ops[0], ops[1]))

	case OpGetPropAddr:
		m.store(in, m.objPropAddr(ops[0], ops[1]))

	case OpGetNextProp:
		m.store(in, m.objNextProp(ops[0], ops[1]))

	case OpGetPropLen:
		m.store(in, m.propLenAt(uint32(ops[0])))

	case OpPutProp:
		m.objPutProp(ops[0], ops[1], ops[2])

	// -----------------------------------------------------------------------
	// Output
	// -----------------------------------------------------------------------

	case OpPrint:
		m.printZString(in.textAddr)

	case OpPrintRet:
		m.printZString(in.textAddr)
		m.printRune('\n')
		m.popFrame(1)

	case OpPrintAddr:
		m.printZString(uint32(ops[0]))

	case OpPrintPAddr:
		m.printZString(m.story.StringAddr(ops[0]))

	case OpPrintObj:
		m.printString(m.objShortName(ops[0]))

	case OpPrintChar:
		m.printZSCII(ops[0])

	case OpPrintNum:
		m.printNum(int16(ops[0]))

	case OpPrintUnicode:
		m.printRune(rune(ops[0]))

	case OpCheckUnicode:
		if ops[0] < 128 {
			m.store(in, 3) // printable and readable
		} else {
			m.store(in, 1) // printable only
		}

	case OpNewLine:
		m.printRune('\n')

	case OpPrintTable:
		m.printTable(ops)

	case OpOutputStream:
		m.selectOutputStream(in, ops)

	case OpInputStream:
		// Input always comes from the caller; stream selection is a no-op.

	case OpShowStatus:
		m.refreshStatusLine()

	// -----------------------------------------------------------------------
	// Input
	// -----------------------------------------------------------------------

	case OpRead:
		m.beginRead(in, ops)

	case OpReadChar:
		m.beginReadChar(in)

	// -----------------------------------------------------------------------
	// Tables and Text Utilities
	// -----------------------------------------------------------------------

	case OpScanTable:
		addr := m.scanTable(ops)
		m.store(in, addr)
		m.branch(in, addr != 0)

	case OpCopyTable:
		m.copyTable(ops[0], ops[1], int16(ops[2]))

	case OpTokenise:
		m.tokeniseOp(ops)

	case OpEncodeText:
		m.encodeTextOp(ops)

	// -----------------------------------------------------------------------
	// Randomness
	// -----------------------------------------------------------------------

	case OpRandom:
		m.store(in, m.random(int16(ops[0])))

	// -----------------------------------------------------------------------
	// Machine Control
	// -----------------------------------------------------------------------

	case OpQuit:
		m.state = StateHalted

	case OpRestart:
		m.restart()

	case OpNop:
		// nothing

	case OpVerify:
		m.branch(in, m.story.ComputeChecksum() == m.story.Checksum)

	case OpPiracy:
		m.branch(in, true)

	case OpSave:
		m.saveResult(in, m.requestSave(in))

	case OpRestore:
		if !m.requestRestore() {
			m.saveResult(in, 0)
		}

	case OpSaveExt:
		if len(ops) > 0 && ops[0] != 0 {
			m.store(in, 0) // partial table saves are not supported
		} else {
			m.store(in, m.requestSave(in))
		}

	case OpRestoreExt:
		if len(ops) > 0 && ops[0] != 0 {
			m.store(in, 0)
		} else if !m.requestRestore() {
			m.store(in, 0)
		}

	case OpSaveUndo:
		m.store(in, m.saveUndo(in))

	case OpRestoreUndo:
		if !m.restoreUndo() {
			m.store(in, 0)
		}

	// -----------------------------------------------------------------------
	// Screen Control (accepted, not rendered)
	// -----------------------------------------------------------------------

	case OpSplitWindow, OpSetWindow, OpEraseWindow, OpEraseLine, OpSetCursor,
		OpSetTextStyle, OpBufferMode, OpSetColour, OpSetTrueColour, OpSoundEffect:
		// A transcript-only core tracks no window state. Operands were
		// consumed during decode; the story sees a cooperative screen.

	case OpGetCursor:
		m.writeWord(uint32(ops[0]), 1)
		m.writeWord(uint32(ops[0])+2, 1)

	case OpSetFont:
		if len(ops) > 0 && ops[0] > 1 && ops[0] != 4 {
			m.store(in, 0)
		} else {
			m.store(in, 1)
		}

	default:
		m.fatalf("illegal opcode at %#x", in.addr)
	}
}

// ---------------------------------------------------------------------------
// Execution Helpers
// ---------------------------------------------------------------------------

// store writes an instruction result when the instruction has a store slot.
func (m *Machine) store(in *instruction, val uint16) {
	if in.hasStore {
		m.writeVariable(in.storeVar, val, false)
	}
}

// branch resolves a branch instruction against its condition. Offsets 0 and
// 1 return false/true from the current routine; anything else adjusts the
// program counter relative to the end of the branch data.
func (m *Machine) branch(in *instruction, cond bool) {
	if !in.hasBranch || cond != in.branchOn {
		return
	}
	switch in.branchOffset {
	case 0:
		m.popFrame(0)
	case 1:
		m.popFrame(1)
	default:
		m.pc = offsetPC(in.next, in.branchOffset)
	}
}

// offsetPC applies a signed branch/jump offset: target = base + offset - 2.
func offsetPC(base uint32, offset int16) uint32 {
	return uint32(int64(base) + int64(offset) - 2)
}

// call enters the routine at the packed address with the given arguments.
// resultVar numbers the variable receiving the return value, or -1 to
// discard it. Calling address 0 is legal and yields false immediately.
func (m *Machine) call(packed uint16, args []uint16, resultVar int) {
	if packed == 0 {
		if resultVar >= 0 {
			m.writeVariable(resultVar, 0, false)
		}
		return
	}
	addr := m.story.RoutineAddr(packed)
	nlocals := int(m.readByte(addr))
	if nlocals > 15 {
		m.fatalf("routine at %#x declares %d locals", addr, nlocals)
	}
	addr++

	locals := make([]uint16, nlocals)
	if m.story.Version <= 4 {
		// Local defaults are encoded after the count on early versions.
		for i := 0; i < nlocals; i++ {
			locals[i] = m.readWord(addr)
			addr += 2
		}
	}
	for i := 0; i < len(args) && i < nlocals; i++ {
		locals[i] = args[i]
	}

	m.pushFrame(m.pc, resultVar, locals, len(args))
	m.pc = addr
}

// logShift shifts unsigned: left for positive counts, right for negative.
func logShift(v uint16, places int16) uint16 {
	switch {
	case places > 0:
		if places >= 16 {
			return 0
		}
		return v << uint(places)
	case places < 0:
		if places <= -16 {
			return 0
		}
		return v >> uint(-places)
	default:
		return v
	}
}

// artShift is the arithmetic variant: right shifts keep the sign.
func artShift(v uint16, places int16) uint16 {
	switch {
	case places > 0:
		if places >= 16 {
			return 0
		}
		return uint16(int16(v) << uint(places))
	case places < 0:
		if places <= -16 {
			places = -15
		}
		return uint16(int16(v) >> uint(-places))
	default:
		return v
	}
}

// scanTable searches for a value in a table. The form operand (default
// 0x82) selects word or byte entries in bit 7 and the entry size in the
// remaining bits.
func (m *Machine) scanTable(ops []uint16) uint16 {
	if len(ops) < 3 {
		m.fatalf("scan_table needs 3 operands, got %d", len(ops))
	}
	form := byte(0x82)
	if len(ops) >= 4 {
		form = byte(ops[3])
	}
	entrySize := uint32(form & 0x7F)
	if entrySize == 0 {
		m.fatalf("scan_table with zero entry size")
	}
	addr := uint32(ops[1])
	for i := uint16(0); i < ops[2]; i++ {
		var v uint16
		if form&0x80 != 0 {
			v = m.readWord(addr)
		} else {
			v = uint16(m.readByte(addr))
		}
		if v == ops[0] {
			return uint16(addr)
		}
		addr += entrySize
	}
	return 0
}

// copyTable implements the storied copy_table semantics: a zero second
// operand zeroes the region, a negative size forces a forward byte copy
// even when that corrupts an overlapping source, and a positive size copies
// safely.
func (m *Machine) copyTable(first, second uint16, size int16) {
	n := int(size)
	if n < 0 {
		n = -n
	}
	if second == 0 {
		for i := 0; i < n; i++ {
			m.writeByte(uint32(first)+uint32(i), 0)
		}
		return
	}
	if size < 0 {
		for i := 0; i < n; i++ {
			m.writeByte(uint32(second)+uint32(i), m.readByte(uint32(first)+uint32(i)))
		}
		return
	}
	tmp := make([]byte, n)
	for i := 0; i < n; i++ {
		tmp[i] = m.readByte(uint32(first) + uint32(i))
	}
	for i := 0; i < n; i++ {
		m.writeByte(uint32(second)+uint32(i), tmp[i])
	}
}

// printTable renders a screen rectangle of text as lines; a transcript-only
// core prints each row on its own line.
func (m *Machine) printTable(ops []uint16) {
	if len(ops) < 2 {
		m.fatalf("print_table needs at least 2 operands")
	}
	width := int(ops[1])
	height := 1
	if len(ops) >= 3 {
		height = int(ops[2])
	}
	skip := 0
	if len(ops) >= 4 {
		skip = int(ops[3])
	}
	addr := uint32(ops[0])
	for row := 0; row < height; row++ {
		if row > 0 {
			m.printRune('\n')
		}
		for col := 0; col < width; col++ {
			m.printZSCII(uint16(m.readByte(addr)))
			addr++
		}
		addr += uint32(skip)
	}
}

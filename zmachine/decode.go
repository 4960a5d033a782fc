package zmachine

// ---------------------------------------------------------------------------
// Operand Types
// ---------------------------------------------------------------------------

type operandType byte

const (
	otLarge    operandType = 0 // 16-bit constant
	otSmall    operandType = 1 // 8-bit constant
	otVariable operandType = 2 // value of the named variable
	otOmitted  operandType = 3
)

// instruction is one decoded operation, complete with fetched operands and
// any store/branch/text suffix. Decoding fetches variable operands, so the
// evaluation stack mutates during decode exactly as it would on hardware
// interpreters.
type instruction struct {
	addr uint32 // address of the opcode byte
	op   Op

	operands [8]uint16
	types    [8]operandType
	n        int

	hasStore bool
	storeVar int

	hasBranch    bool
	branchOn     bool  // branch when the condition matches this
	branchOffset int16 // 0/1 mean return false/true

	// suffixAddr is where the store/branch data begins. Snapshots taken by
	// the save opcodes record it as the resume point, per the Quetzal rule
	// that a restored machine re-reads the save instruction's result bytes.
	suffixAddr uint32

	textAddr uint32 // literal string for print/print_ret

	next uint32 // address of the following instruction
}

func (in *instruction) name() string { return in.op.Name() }

// ---------------------------------------------------------------------------
// Decoder
// ---------------------------------------------------------------------------

// decode reads the instruction at the current program counter. The four
// encodings (long, short, variable, extended) all funnel into the same
// instruction shape.
func (m *Machine) decode(in *instruction) {
	*in = instruction{addr: m.pc}
	v := m.story.Version
	pc := m.pc
	opByte := m.readByte(pc)
	pc++

	switch {
	case opByte == 0xBE && v >= 5:
		// Extended form: opcode number in the next byte, VAR-style types.
		num := m.readByte(pc)
		pc++
		in.op = opsEXT[num]
		pc = m.readVarOperands(in, pc, 1)

	case opByte>>6 == 3:
		// Variable form: bit 5 selects the 2OP or VAR table.
		num := opByte & 0x1F
		if opByte&0x20 == 0 {
			in.op = ops2OP[num]
		} else {
			in.op = opsVAR[num]
		}
		typeBytes := 1
		if opByte == 0xEC || opByte == 0xFA {
			typeBytes = 2 // call_vs2 and call_vn2 take up to 8 operands
		}
		pc = m.readVarOperands(in, pc, typeBytes)

	case opByte>>6 == 2:
		// Short form: bits 4-5 give the operand type; type 3 means 0OP.
		t := operandType(opByte >> 4 & 3)
		num := opByte & 0x0F
		if t == otOmitted {
			in.op = ops0OP[num]
		} else {
			in.op = ops1OP[num]
			pc = m.readOperand(in, pc, t)
		}

	default:
		// Long form: always 2OP; bits 6 and 5 pick small constant or
		// variable for each operand.
		in.op = ops2OP[opByte&0x1F]
		t1, t2 := otSmall, otSmall
		if opByte&0x40 != 0 {
			t1 = otVariable
		}
		if opByte&0x20 != 0 {
			t2 = otVariable
		}
		pc = m.readOperand(in, pc, t1)
		pc = m.readOperand(in, pc, t2)
	}

	info := m.adjustForVersion(in)
	if in.n < info.MinOps {
		m.fatalf("%s at %#x has %d operands, needs %d", info.Name, in.addr, in.n, info.MinOps)
	}

	in.suffixAddr = pc
	if info.Store {
		in.hasStore = true
		in.storeVar = int(m.readByte(pc))
		pc++
	}
	if info.Branch {
		in.hasBranch = true
		b1 := m.readByte(pc)
		pc++
		in.branchOn = b1&0x80 != 0
		if b1&0x40 != 0 {
			in.branchOffset = int16(b1 & 0x3F)
		} else {
			raw := uint16(b1&0x3F)<<8 | uint16(m.readByte(pc))
			pc++
			if raw&0x2000 != 0 {
				raw |= 0xC000 // sign-extend the 14-bit offset
			}
			in.branchOffset = int16(raw)
		}
	}
	if info.Text {
		in.textAddr = pc
		pc = m.skipString(pc)
	}
	in.next = pc
}

// adjustForVersion resolves the operations whose meaning or suffix shape
// changed across story versions, returning the effective metadata.
func (m *Machine) adjustForVersion(in *instruction) OpcodeInfo {
	v := m.story.Version
	switch in.op {
	case OpNot:
		if v >= 5 {
			in.op = OpCall1N
		}
	case OpPop:
		if v >= 5 {
			in.op = OpCatch
		}
	case OpSave, OpRestore:
		if v >= 5 {
			// 0OP save/restore were withdrawn in favour of the EXT forms.
			in.op = OpIllegal
		}
	}

	info := in.op.Info()
	switch in.op {
	case OpSave, OpRestore:
		if v == 4 {
			info.Store, info.Branch = true, false
		}
	case OpRead:
		if v >= 5 {
			info.Store = true
		}
	case OpPull:
		if v == 6 {
			// v6 pull stores instead of naming a variable operand.
			info.Store = true
			info.MinOps = 0
		}
	}
	return info
}

// readOperand fetches a single operand of known type.
func (m *Machine) readOperand(in *instruction, pc uint32, t operandType) uint32 {
	var val uint16
	switch t {
	case otLarge:
		val = m.readWord(pc)
		pc += 2
	case otSmall:
		val = uint16(m.readByte(pc))
		pc++
	case otVariable:
		val = m.readVariable(int(m.readByte(pc)), false)
		pc++
	case otOmitted:
		return pc
	}
	if in.n >= len(in.operands) {
		m.fatalf("instruction at %#x has too many operands", in.addr)
	}
	in.operands[in.n] = val
	in.types[in.n] = t
	in.n++
	return pc
}

// readVarOperands fetches operands described by one or two type bytes. Each
// byte holds four 2-bit fields, high bits first; the first omitted field
// ends the list.
func (m *Machine) readVarOperands(in *instruction, pc uint32, typeBytes int) uint32 {
	types := make([]operandType, 0, 8)
	for i := 0; i < typeBytes; i++ {
		tb := m.readByte(pc)
		pc++
		for shift := 6; shift >= 0; shift -= 2 {
			types = append(types, operandType(tb>>shift&3))
		}
	}
	for _, t := range types {
		if t == otOmitted {
			break
		}
		pc = m.readOperand(in, pc, t)
	}
	return pc
}

// skipString advances past an encoded Z-string: words until bit 15 is set.
func (m *Machine) skipString(pc uint32) uint32 {
	for {
		w := m.readWord(pc)
		pc += 2
		if w&0x8000 != 0 {
			return pc
		}
	}
}

package zmachine

// Memory accessors. Reads may touch the whole image; writes are legal only
// below the static-memory base. Everything here faults through fatalf, so
// opcode handlers can use these without their own bounds checks.

func (m *Machine) readByte(addr uint32) byte {
	if addr >= uint32(len(m.mem)) {
		m.fatalf("byte read at %#x beyond memory end %#x", addr, len(m.mem))
	}
	return m.mem[addr]
}

func (m *Machine) readWord(addr uint32) uint16 {
	if addr+1 >= uint32(len(m.mem)) {
		m.fatalf("word read at %#x beyond memory end %#x", addr, len(m.mem))
	}
	return uint16(m.mem[addr])<<8 | uint16(m.mem[addr+1])
}

func (m *Machine) writeByte(addr uint32, v byte) {
	if addr >= uint32(m.story.StaticBase) {
		m.fatalf("byte write at %#x into static memory (base %#x)", addr, m.story.StaticBase)
	}
	m.mem[addr] = v
}

func (m *Machine) writeWord(addr uint32, v uint16) {
	if addr+1 >= uint32(m.story.StaticBase) {
		m.fatalf("word write at %#x into static memory (base %#x)", addr, m.story.StaticBase)
	}
	m.mem[addr] = byte(v >> 8)
	m.mem[addr+1] = byte(v)
}

// dynamicSize is the number of writable bytes at the bottom of memory.
func (m *Machine) dynamicSize() int { return int(m.story.StaticBase) }

// DynamicMemory returns a copy of the writable region. This is the exact
// region snapshots capture and the introspection layer diffs.
func (m *Machine) DynamicMemory() []byte {
	return append([]byte(nil), m.mem[:m.dynamicSize()]...)
}

// globalAddr returns the byte address of global variable g, where g counts
// from 0 to 239.
func (m *Machine) globalAddr(g int) uint32 {
	return uint32(m.story.Globals) + 2*uint32(g)
}

// ReadGlobal returns global variable g (0-239) from current memory.
func (m *Machine) ReadGlobal(g int) uint16 {
	if g < 0 || g > 239 {
		m.fatalf("global %d out of range", g)
	}
	return m.readWord(m.globalAddr(g))
}

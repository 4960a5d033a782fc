package zmachine

// ---------------------------------------------------------------------------
// Dictionary
// ---------------------------------------------------------------------------

// Dictionary is a parsed view of one dictionary table: the game's own (in
// static memory, parsed once per machine) or a custom table handed to the
// tokenise opcode.
type Dictionary struct {
	addr       uint32
	separators []byte // ZSCII codes that split and self-tokenise
	entryLen   int
	count      int
	sorted     bool
	entries    uint32 // address of entry 0
	wordBytes  int
}

// parseDictionary reads a dictionary header out of memory.
func (m *Machine) parseDictionary(addr uint32) *Dictionary {
	d := &Dictionary{addr: addr}
	nsep := int(m.readByte(addr))
	addr++
	d.separators = make([]byte, nsep)
	for i := 0; i < nsep; i++ {
		d.separators[i] = m.readByte(addr)
		addr++
	}
	d.entryLen = int(m.readByte(addr))
	addr++
	cnt := int(int16(m.readWord(addr)))
	addr += 2
	// A negative count marks an unsorted table (legal for custom
	// dictionaries); search degrades to linear.
	d.sorted = cnt >= 0
	if cnt < 0 {
		cnt = -cnt
	}
	d.count = cnt
	d.entries = addr
	_, d.wordBytes = encodedWordLen(m.story.Version)
	if d.entryLen < d.wordBytes {
		m.fatalf("dictionary at %#x has %d-byte entries, need at least %d", d.addr, d.entryLen, d.wordBytes)
	}
	return d
}

// dictionary returns the game's main dictionary, parsing it on first use.
func (m *Machine) dictionary() *Dictionary {
	if m.dict == nil {
		m.dict = m.parseDictionary(uint32(m.story.Dictionary))
	}
	return m.dict
}

func (d *Dictionary) isSeparator(c byte) bool {
	for _, s := range d.separators {
		if s == c {
			return true
		}
	}
	return false
}

// lookup finds the dictionary address of an encoded word, or 0.
func (m *Machine) lookup(d *Dictionary, encoded []uint16) uint16 {
	cmp := func(entry int) int {
		addr := d.entries + uint32(entry*d.entryLen)
		for i, w := range encoded {
			have := m.readWord(addr + 2*uint32(i))
			if w < have {
				return -1
			}
			if w > have {
				return 1
			}
		}
		return 0
	}
	if d.sorted {
		lo, hi := 0, d.count-1
		for lo <= hi {
			mid := (lo + hi) / 2
			switch c := cmp(mid); {
			case c == 0:
				return uint16(d.entries + uint32(mid*d.entryLen))
			case c < 0:
				hi = mid - 1
			default:
				lo = mid + 1
			}
		}
		return 0
	}
	for i := 0; i < d.count; i++ {
		if cmp(i) == 0 {
			return uint16(d.entries + uint32(i*d.entryLen))
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Tokenisation
// ---------------------------------------------------------------------------

// token is one word of player input located in the text buffer.
type token struct {
	text string
	pos  int // byte position within the text buffer
}

// inputTokens splits the text buffer's contents on spaces and dictionary
// separators. Separators count as words themselves; spaces do not.
func (m *Machine) inputTokens(textAddr uint32, d *Dictionary) []token {
	var chars []byte
	var base int
	if m.story.Version <= 4 {
		base = 1
		for a := textAddr + 1; ; a++ {
			c := m.readByte(a)
			if c == 0 {
				break
			}
			chars = append(chars, c)
		}
	} else {
		base = 2
		n := uint32(m.readByte(textAddr + 1))
		for i := uint32(0); i < n; i++ {
			chars = append(chars, m.readByte(textAddr+2+i))
		}
	}

	var toks []token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			toks = append(toks, token{text: string(chars[start:end]), pos: base + start})
			start = -1
		}
	}
	for i, c := range chars {
		switch {
		case c == ' ':
			flush(i)
		case d.isSeparator(c):
			flush(i)
			toks = append(toks, token{text: string([]byte{c}), pos: base + i})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(chars))
	return toks
}

// tokenise fills the parse buffer from the text buffer: byte 1 receives the
// token count and each entry records the dictionary address (0 when
// unknown), the token length, and its buffer position. With skipUnknown set
// (the tokenise opcode's fourth operand) unknown words leave their entries
// untouched instead of being zeroed.
func (m *Machine) tokenise(textAddr, parseAddr uint32, d *Dictionary, skipUnknown bool) {
	maxWords := int(m.readByte(parseAddr))
	toks := m.inputTokens(textAddr, d)
	if len(toks) > maxWords {
		toks = toks[:maxWords]
	}
	m.writeByte(parseAddr+1, byte(len(toks)))
	entry := parseAddr + 2
	for _, t := range toks {
		addr := m.lookup(d, m.encodeWord(t.text))
		if addr != 0 || !skipUnknown {
			m.writeWord(entry, addr)
			m.writeByte(entry+2, byte(len(t.text)))
			m.writeByte(entry+3, byte(t.pos))
		}
		entry += 4
	}
}

// tokeniseOp implements the tokenise opcode: an explicit text/parse pair,
// an optional custom dictionary, and the skip-unknown flag.
func (m *Machine) tokeniseOp(ops []uint16) {
	if len(ops) < 2 {
		m.fatalf("tokenise needs at least 2 operands, got %d", len(ops))
	}
	d := m.dictionary()
	if len(ops) >= 3 && ops[2] != 0 {
		d = m.parseDictionary(uint32(ops[2]))
	}
	skip := len(ops) >= 4 && ops[3] != 0
	m.tokenise(uint32(ops[0]), uint32(ops[1]), d, skip)
}

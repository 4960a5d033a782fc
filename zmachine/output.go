package zmachine

import "strconv"

// ---------------------------------------------------------------------------
// Output Streams
// ---------------------------------------------------------------------------

// redirection is one level of stream-3 memory capture.
type redirection struct {
	table uint32 // table address; count word back-patched on close
	n     uint16
}

// streamState tracks the Z-machine's four output streams. Stream 1 is the
// transcript surfaced to the caller; stream 2 is the game's transcription
// flag (tracked, never written); stream 3 redirects into memory and
// overrides the others while open; stream 4 records input and is tracked
// only.
type streamState struct {
	transcript bool
	scripting  bool
	recording  bool
	tables     []redirection
}

const maxRedirections = 16

// printString routes decoded text to the selected streams.
func (m *Machine) printString(s string) {
	if len(m.streams.tables) > 0 {
		for _, r := range s {
			m.redirectZSCII(m.runeToZSCIIOutput(r))
		}
		return
	}
	if m.streams.transcript {
		m.out.WriteString(s)
	}
}

func (m *Machine) printRune(r rune) {
	if len(m.streams.tables) > 0 {
		m.redirectZSCII(m.runeToZSCIIOutput(r))
		return
	}
	if m.streams.transcript {
		m.out.WriteRune(r)
	}
}

// printZSCII emits one ZSCII output code: raw into an open redirection,
// translated onto the transcript.
func (m *Machine) printZSCII(code uint16) {
	if len(m.streams.tables) > 0 {
		m.redirectZSCII(code)
		return
	}
	if r := m.zsciiRune(code); r != 0 && m.streams.transcript {
		m.out.WriteRune(r)
	}
}

func (m *Machine) printNum(v int16) {
	m.printString(strconv.Itoa(int(v)))
}

// runeToZSCIIOutput converts text to the code written into a stream-3
// table; unrepresentable runes degrade to '?'.
func (m *Machine) runeToZSCIIOutput(r rune) uint16 {
	if code, ok := m.runeToZSCII(r); ok {
		return code
	}
	return '?'
}

// redirectZSCII appends one code byte to the innermost redirection table.
func (m *Machine) redirectZSCII(code uint16) {
	r := &m.streams.tables[len(m.streams.tables)-1]
	m.writeByte(r.table+2+uint32(r.n), byte(code))
	r.n++
}

// selectOutputStream implements output_stream: positive selects, negative
// deselects, and stream 3 nests.
func (m *Machine) selectOutputStream(in *instruction, ops []uint16) {
	if len(ops) == 0 {
		m.fatalf("output_stream with no operands")
	}
	switch n := int16(ops[0]); n {
	case 0:
		// selecting nothing is legal and does nothing
	case 1:
		m.streams.transcript = true
	case -1:
		m.streams.transcript = false
	case 2:
		m.streams.scripting = true
		m.writeWord(hdrFlags2, m.readWord(hdrFlags2)|1)
	case -2:
		m.streams.scripting = false
		m.writeWord(hdrFlags2, m.readWord(hdrFlags2)&^1)
	case 3:
		if len(ops) < 2 {
			m.fatalf("output_stream 3 needs a table address")
		}
		if len(m.streams.tables) >= maxRedirections {
			m.fatalf("output_stream 3 nested deeper than %d", maxRedirections)
		}
		m.streams.tables = append(m.streams.tables, redirection{table: uint32(ops[1])})
	case -3:
		if len(m.streams.tables) == 0 {
			m.fatalf("output_stream -3 with no redirection open")
		}
		r := m.streams.tables[len(m.streams.tables)-1]
		m.streams.tables = m.streams.tables[:len(m.streams.tables)-1]
		m.writeWord(r.table, r.n)
	case 4:
		m.streams.recording = true
	case -4:
		m.streams.recording = false
	default:
		m.fatalf("output_stream %d unknown", n)
	}
}

// ---------------------------------------------------------------------------
// Status Line
// ---------------------------------------------------------------------------

// StatusLine is the v1-3 status bar model: the player's location object
// name plus either score/turns or the time of day.
type StatusLine struct {
	Location string
	Score    int
	Moves    int
	Hours    int
	Minutes  int
	Timed    bool
}

// refreshStatusLine recomputes the status bar from the global variables the
// format reserves for it: G0 the location object, G1/G2 score and turns (or
// hours and minutes for timed games).
func (m *Machine) refreshStatusLine() {
	if m.story.Version > 3 {
		return
	}
	loc := m.ReadGlobal(0)
	st := StatusLine{Timed: m.story.Version == 3 && m.mem[hdrFlags1]&0x02 != 0}
	if loc != 0 && int(loc) <= m.maxObjects() {
		st.Location = m.objShortName(loc)
	}
	if st.Timed {
		st.Hours = int(m.ReadGlobal(1))
		st.Minutes = int(m.ReadGlobal(2))
	} else {
		st.Score = int(int16(m.ReadGlobal(1)))
		st.Moves = int(m.ReadGlobal(2))
	}
	m.status = st
}

// StatusLine returns the most recently refreshed status bar. It refreshes
// on every input request and show_status instruction.
func (m *Machine) StatusLine() StatusLine { return m.status }

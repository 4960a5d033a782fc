package zmachine

import "strings"

// ---------------------------------------------------------------------------
// Input Requests
// ---------------------------------------------------------------------------

type inputKind int

const (
	inputLine inputKind = iota
	inputChar
)

// pendingInput is a blocked read or read_char: enough of the decoded
// instruction to complete it when Feed supplies text. Timed-input operands
// are accepted and ignored; this core has no real-time clock.
type pendingInput struct {
	kind     inputKind
	text     uint32
	parse    uint32
	storeVar int
	hasStore bool
}

// beginRead suspends execution on a read instruction.
func (m *Machine) beginRead(in *instruction, ops []uint16) {
	if len(ops) < 1 {
		m.fatalf("read with no text buffer")
	}
	if m.story.Version <= 3 {
		m.refreshStatusLine()
	}
	var parse uint32
	if len(ops) >= 2 {
		parse = uint32(ops[1])
	}
	if m.story.Version <= 4 && parse == 0 {
		m.fatalf("read without a parse buffer")
	}
	m.pending = &pendingInput{
		kind:     inputLine,
		text:     uint32(ops[0]),
		parse:    parse,
		storeVar: in.storeVar,
		hasStore: in.hasStore,
	}
	m.state = StateWaitingForInput
}

// beginReadChar suspends execution on a read_char instruction.
func (m *Machine) beginReadChar(in *instruction) {
	m.pending = &pendingInput{
		kind:     inputChar,
		storeVar: in.storeVar,
		hasStore: in.hasStore,
	}
	m.state = StateWaitingForInput
}

// acceptInput completes the pending request with the player's text. Line
// input is lowercased, reduced to representable ZSCII, truncated to the
// buffer's capacity, and tokenised into the parse buffer.
func (m *Machine) acceptInput(text string) {
	p := m.pending
	m.pending = nil

	if p.kind == inputChar {
		code := uint16(13)
		for _, r := range text {
			if c, ok := m.runeToZSCII(r); ok {
				code = c
			}
			break
		}
		if p.hasStore {
			m.writeVariable(p.storeVar, code, false)
		}
		return
	}

	m.lastText, m.lastParse = p.text, p.parse

	line := strings.ToLower(strings.TrimRight(text, "\r\n"))
	var chars []byte
	for _, r := range line {
		if code, ok := m.runeToZSCII(r); ok && code != 13 && code <= 255 {
			chars = append(chars, byte(code))
		}
	}

	cap := int(m.readByte(p.text))
	if m.story.Version <= 4 {
		// Byte 0 holds the maximum letters minus one; the terminator must
		// land inside the buffer the story allocated.
		max := cap - 1
		if max < 0 {
			max = 0
		}
		if len(chars) > max {
			chars = chars[:max]
		}
		for i, c := range chars {
			m.writeByte(p.text+1+uint32(i), c)
		}
		m.writeByte(p.text+1+uint32(len(chars)), 0)
	} else {
		// v5+ buffers may arrive preloaded with text the story printed
		// ahead of the cursor; typed characters append to it.
		existing := int(m.readByte(p.text + 1))
		if existing > cap {
			existing = cap
		}
		if len(chars) > cap-existing {
			chars = chars[:cap-existing]
		}
		for i, c := range chars {
			m.writeByte(p.text+2+uint32(existing+i), c)
		}
		m.writeByte(p.text+1, byte(existing+len(chars)))
	}

	if p.parse != 0 {
		m.tokenise(p.text, p.parse, m.dictionary(), false)
	}
	if m.story.Version >= 5 && p.hasStore {
		m.writeVariable(p.storeVar, 13, false)
	}
}

// PendingInputKind reports whether the machine wants a line or a single
// character; callers feeding scripted input can treat both uniformly.
func (m *Machine) PendingInputKind() (line bool, ok bool) {
	if m.pending == nil {
		return false, false
	}
	return m.pending.kind == inputLine, true
}

// LastReadBuffers exposes the text and parse buffer addresses of the most
// recent line read. The introspection layer excludes these regions from
// world diffs.
func (m *Machine) LastReadBuffers() (text, parse uint32, ok bool) {
	if m.lastText == 0 {
		return 0, 0, false
	}
	return m.lastText, m.lastParse, true
}

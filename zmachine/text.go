package zmachine

import "strings"

// ---------------------------------------------------------------------------
// Alphabets
// ---------------------------------------------------------------------------

// The three 26-letter alphabets covering z-chars 6-31. A2 position 0
// (z-char 6) is the ZSCII escape and position 1 (z-char 7) is newline on
// v2+; both stay fixed even under a custom alphabet table.
const (
	alphaA0 = "abcdefghijklmnopqrstuvwxyz"
	alphaA1 = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphaA2 = " \n0123456789.,!?_#'\"/\\-:()"
	// V1 stories put newline at z-char 1 and carry an extra symbol in A2.
	alphaA2v1 = " 0123456789.,!?_#'\"/\\<-:()"
)

// alphabetRune resolves z-char z (6-31) in alphabet row alpha, honouring a
// custom alphabet table when the story declares one.
func (m *Machine) alphabetRune(alpha int, z byte) rune {
	if m.story.Version >= 5 && m.story.AlphabetAddr != 0 {
		if alpha == 2 && z == 7 {
			return '\n'
		}
		code := m.readByte(uint32(m.story.AlphabetAddr) + uint32(alpha*26+int(z)-6))
		return m.zsciiRune(uint16(code))
	}
	return defaultAlphabetRune(m.story.Version, alpha, z)
}

// defaultAlphabetRune resolves z-char z (6-31) against the standard
// alphabets.
func defaultAlphabetRune(version byte, alpha int, z byte) rune {
	var row string
	switch alpha {
	case 0:
		row = alphaA0
	case 1:
		row = alphaA1
	default:
		if version == 1 {
			row = alphaA2v1
		} else {
			row = alphaA2
		}
	}
	return rune(row[int(z)-6])
}

// ---------------------------------------------------------------------------
// ZSCII Translation
// ---------------------------------------------------------------------------

// defaultUnicode is the standard translation for ZSCII 155-223, the extra
// character range used by European releases.
var defaultUnicode = []rune("äöüÄÖÜß»«ëïÿËÏáéíóúýÁÉÍÓÚÝàèìòùÀÈÌÒÙâêîôûÂÊÎÔÛåÅøØãñõÃÑÕæÆçÇþðÞÐ£œŒ¡¿")

// zsciiRune converts an output ZSCII code to text.
func (m *Machine) zsciiRune(code uint16) rune {
	switch {
	case code == 0:
		return 0
	case code == 9:
		return '\t'
	case code == 11:
		return ' ' // sentence space
	case code == 13:
		return '\n'
	case code >= 32 && code <= 126:
		return rune(code)
	case code >= 155 && code <= 251:
		if tab, n := m.unicodeTable(); code-155 < uint16(n) {
			return tab(int(code - 155))
		}
		return '?'
	default:
		return 0
	}
}

// runeToZSCII converts input text to a ZSCII code, reporting false for
// characters the machine cannot represent.
func (m *Machine) runeToZSCII(r rune) (uint16, bool) {
	switch {
	case r == '\n':
		return 13, true
	case r == '\t':
		return 9, true
	case r >= 32 && r <= 126:
		return uint16(r), true
	}
	tab, n := m.unicodeTable()
	for i := 0; i < n; i++ {
		if tab(i) == r {
			return uint16(155 + i), true
		}
	}
	return 0, false
}

// defaultRuneToZSCII is runeToZSCII against the standard character table.
func defaultRuneToZSCII(r rune) (uint16, bool) {
	switch {
	case r == '\n':
		return 13, true
	case r == '\t':
		return 9, true
	case r >= 32 && r <= 126:
		return uint16(r), true
	}
	for i, u := range defaultUnicode {
		if u == r {
			return uint16(155 + i), true
		}
	}
	return 0, false
}

// unicodeTable returns an accessor for the extra-character translation
// table: the story's own (via the header extension) or the standard default.
func (m *Machine) unicodeTable() (func(int) rune, int) {
	if m.story.ExtensionAddr != 0 {
		ext := uint32(m.story.ExtensionAddr)
		if count := m.readWord(ext); count >= extUnicodeTable {
			if tabAddr := m.readWord(ext + 2*extUnicodeTable); tabAddr != 0 {
				n := int(m.readByte(uint32(tabAddr)))
				return func(i int) rune {
					return rune(m.readWord(uint32(tabAddr) + 1 + 2*uint32(i)))
				}, n
			}
		}
	}
	return func(i int) rune { return defaultUnicode[i] }, len(defaultUnicode)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeString decodes the packed Z-string at addr into text, returning the
// address of the first byte past the string.
func (m *Machine) DecodeString(addr uint32) (string, uint32) {
	var sb strings.Builder
	next := m.decodeInto(&sb, addr, false)
	return sb.String(), next
}

// decodeInto walks z-chars at addr, appending decoded text. Abbreviations
// may not nest; inAbbrev suppresses them on the inner pass.
func (m *Machine) decodeInto(sb *strings.Builder, addr uint32, inAbbrev bool) uint32 {
	v := m.story.Version
	lock, alpha := 0, 0
	abbrevBank := -1
	esc := -1 // -2: want high half, >=0: high half collected

	for {
		w := m.readWord(addr)
		addr += 2
		for _, z := range [3]byte{byte(w >> 10 & 31), byte(w >> 5 & 31), byte(w & 31)} {
			switch {
			case abbrevBank >= 0:
				bank := abbrevBank
				abbrevBank = -1
				if inAbbrev {
					continue // nested abbreviations are not legal text
				}
				entry := uint32(32*(bank-1)) + uint32(z)
				strAddr := 2 * uint32(m.readWord(uint32(m.story.Abbreviations)+2*entry))
				m.decodeInto(sb, strAddr, true)
				alpha = lock

			case esc == -2:
				esc = int(z)

			case esc >= 0:
				if r := m.zsciiRune(uint16(esc)<<5 | uint16(z)); r != 0 {
					sb.WriteRune(r)
				}
				esc = -1
				alpha = lock

			case z == 0:
				sb.WriteByte(' ')
				alpha = lock

			case z == 1 && v == 1:
				sb.WriteByte('\n')
				alpha = lock

			case z <= 3 && (v >= 3 || (z == 1 && v == 2)):
				abbrevBank = int(z)

			case z <= 3: // v1/2 one-shot shifts
				alpha = (alpha + int(z) - 1) % 3

			case z <= 5:
				if v <= 2 {
					// Shift locks move the base alphabet.
					lock = (lock + int(z) - 3) % 3
					alpha = lock
				} else {
					alpha = int(z) - 3
				}

			case alpha == 2 && z == 6:
				esc = -2

			default:
				if r := m.alphabetRune(alpha, z); r != 0 {
					sb.WriteRune(r)
				}
				alpha = lock
			}
		}
		if w&0x8000 != 0 {
			return addr
		}
	}
}

// printZString decodes the string at addr onto the selected output streams.
func (m *Machine) printZString(addr uint32) {
	s, _ := m.DecodeString(addr)
	m.printString(s)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// encodedWordLen returns the dictionary word length in z-chars and bytes.
func encodedWordLen(version byte) (zchars, bytes int) {
	if version <= 3 {
		return 6, 4
	}
	return 9, 6
}

// encodeZChars translates text to a z-char sequence using shifts and ZSCII
// escapes as needed. No padding or truncation is applied.
func (m *Machine) encodeZChars(text string) []byte {
	return encodeZCharsWith(m.story.Version, m.alphabetRune, m.runeToZSCII, text)
}

// encodeZCharsDefault encodes with the standard alphabets and character
// table; the story builder uses it before any machine exists.
func encodeZCharsDefault(version byte, text string) []byte {
	return encodeZCharsWith(version,
		func(alpha int, z byte) rune { return defaultAlphabetRune(version, alpha, z) },
		defaultRuneToZSCII, text)
}

func encodeZCharsWith(v byte, lookup func(alpha int, z byte) rune, toZSCII func(rune) (uint16, bool), text string) []byte {
	var zs []byte
	shift := func(alpha int) {
		// One-shot shift to alphabet 1 or 2.
		if v <= 2 {
			zs = append(zs, byte(1+alpha))
		} else {
			zs = append(zs, byte(3+alpha))
		}
	}
	escape := func(code uint16) {
		shift(2)
		zs = append(zs, 6, byte(code>>5&31), byte(code&31))
	}

	for _, r := range text {
		if r == ' ' {
			zs = append(zs, 0)
			continue
		}
		if r == '\n' && v == 1 {
			zs = append(zs, 1)
			continue
		}
		matched := false
		for alpha := 0; alpha < 3 && !matched; alpha++ {
			for z := byte(6); z <= 31; z++ {
				if alpha == 2 && (z == 6 || (z == 7 && v >= 2)) {
					continue
				}
				if lookup(alpha, z) == r {
					if alpha > 0 {
						shift(alpha)
					}
					zs = append(zs, z)
					matched = true
					break
				}
			}
		}
		if !matched {
			if code, ok := toZSCII(r); ok {
				escape(code)
			} else {
				escape('?')
			}
		}
	}
	return zs
}

// packZChars packs z-chars three to a word and sets the end bit on the last
// word. The sequence must already be padded to a multiple of three.
func packZChars(zs []byte) []uint16 {
	words := make([]uint16, 0, len(zs)/3)
	for i := 0; i+2 < len(zs); i += 3 {
		w := uint16(zs[i]&31)<<10 | uint16(zs[i+1]&31)<<5 | uint16(zs[i+2]&31)
		words = append(words, w)
	}
	if len(words) > 0 {
		words[len(words)-1] |= 0x8000
	}
	return words
}

// encodeWord produces the fixed-length dictionary encoding of a word:
// truncated or padded with z-char 5 to 6 z-chars (v1-3) or 9 (v4+).
func (m *Machine) encodeWord(word string) []uint16 {
	zchars, _ := encodedWordLen(m.story.Version)
	zs := m.encodeZChars(strings.ToLower(word))
	for len(zs) < zchars {
		zs = append(zs, 5)
	}
	zs = zs[:zchars]
	return packZChars(zs)
}

// encodeStringWords encodes arbitrary text, padded with z-char 5 to a whole
// number of words.
func (m *Machine) encodeStringWords(text string) []uint16 {
	zs := m.encodeZChars(text)
	for len(zs)%3 != 0 || len(zs) == 0 {
		zs = append(zs, 5)
	}
	return packZChars(zs)
}

// encodeTextOp implements the encode_text opcode: encode length characters
// of the ZSCII text at text+from and write the dictionary-format words at
// coded.
func (m *Machine) encodeTextOp(ops []uint16) {
	if len(ops) < 4 {
		m.fatalf("encode_text needs 4 operands, got %d", len(ops))
	}
	text, length, from, coded := ops[0], ops[1], ops[2], ops[3]
	var sb strings.Builder
	for i := uint16(0); i < length; i++ {
		if r := m.zsciiRune(uint16(m.readByte(uint32(text) + uint32(from) + uint32(i)))); r != 0 {
			sb.WriteRune(r)
		}
	}
	words := m.encodeWord(sb.String())
	for i, w := range words {
		m.writeWord(uint32(coded)+2*uint32(i), w)
	}
}

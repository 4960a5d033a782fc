package zmachine

import (
	"reflect"
	"testing"
)

// newTextMachine builds a minimal machine for codec tests; nothing is run.
func newTextMachine(t *testing.T, b *StoryBuilder) *Machine {
	t.Helper()
	b.Emit(0xBA)
	return NewMachine(buildStory(t, b), 1)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func TestDecodeString(t *testing.T) {
	b := NewStoryBuilder(3)
	s := b.NewString(`The quick Fox says: "hi!"`)
	m := newTextMachine(t, b)
	got, _ := m.DecodeString(m.story.StringAddr(uint16(s)))
	if got != `The quick Fox says: "hi!"` {
		t.Errorf("decoded = %q, want %q", got, `The quick Fox says: "hi!"`)
	}
}

func TestDecodeAbbreviation(t *testing.T) {
	b := NewStoryBuilder(3)
	b.SetAbbrev(0, "hello ")
	// z-chars 1, 0, 30: abbreviation bank 1 entry 0, then 'y'.
	addr := b.EmitWord(0x841E)
	m := newTextMachine(t, b)
	got, _ := m.DecodeString(uint32(addr))
	if got != "hello y" {
		t.Errorf("decoded = %q, want %q", got, "hello y")
	}
}

func TestDecodeV1Newline(t *testing.T) {
	b := NewStoryBuilder(1)
	// z-chars 1, 5, 5: newline on v1, then shift-lock padding.
	addr := b.EmitWord(0x84A5)
	m := newTextMachine(t, b)
	got, _ := m.DecodeString(uint32(addr))
	if got != "\n" {
		t.Errorf("decoded = %q, want %q", got, "\n")
	}
}

func TestDecodeReturnsNextAddress(t *testing.T) {
	b := NewStoryBuilder(3)
	s := b.NewString("ab")
	m := newTextMachine(t, b)
	start := m.story.StringAddr(uint16(s))
	_, next := m.DecodeString(start)
	if next != start+2 {
		t.Errorf("next = %#x, want %#x (one word)", next, start+2)
	}
}

// ---------------------------------------------------------------------------
// ZSCII Escapes and Extra Characters
// ---------------------------------------------------------------------------

func TestZSCIIEscapeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"ascii outside the alphabets", "@", "@"},
		{"extra character", "ä", "ä"},
		{"unencodable becomes question mark", "€", "?"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewStoryBuilder(3)
			s := b.NewString(tc.text)
			m := newTextMachine(t, b)
			got, _ := m.DecodeString(m.story.StringAddr(uint16(s)))
			if got != tc.want {
				t.Errorf("decoded = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUnicodeTableOverride(t *testing.T) {
	b := NewStoryBuilder(5)
	ext := b.Alloc(8)
	utab := b.Alloc(4)
	b.Patch(ext, 0x00, 0x03)                      // extension word count
	b.Patch(ext+6, byte(utab>>8), byte(utab))     // unicode table address
	b.Patch(utab, 1, 0x26, 0x3A)                  // one entry: U+263A
	b.SetExtensionAddr(ext)
	inTable := b.EmitWord(0x14C4)  // z-chars 5, 6, 4
	b.EmitWord(0xECA5)             // z-chars 27, 5, 5: ZSCII 155
	outOfTable := b.EmitWord(0x14C4)
	b.EmitWord(0xF0A5) // z-chars 28, 5, 5: ZSCII 156, past the table

	m := newTextMachine(t, b)
	if got, _ := m.DecodeString(uint32(inTable)); got != "☺" {
		t.Errorf("ZSCII 155 = %q, want %q", got, "☺")
	}
	if got, _ := m.DecodeString(uint32(outOfTable)); got != "?" {
		t.Errorf("ZSCII 156 = %q, want %q (beyond the table)", got, "?")
	}
}

// ---------------------------------------------------------------------------
// Custom Alphabets
// ---------------------------------------------------------------------------

func TestCustomAlphabetTable(t *testing.T) {
	b := NewStoryBuilder(5)
	tbl := b.Alloc(78)
	b.Patch(tbl, []byte("zyxwvutsrqponmlkjihgfedcba")...)
	b.Patch(tbl+26, []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")...)
	b.Patch(tbl+52, []byte(` ^0123456789.,!?_#'"/\-:()`)...)
	b.SetAlphabetAddr(tbl)
	word := b.EmitWord(0x98E8) // z-chars 6, 7, 8
	newline := b.EmitWord(0x94E5)  // z-chars 5, 7, 5: A2 z-char 7 stays newline

	m := newTextMachine(t, b)
	if got, _ := m.DecodeString(uint32(word)); got != "zyx" {
		t.Errorf("custom A0 decode = %q, want %q", got, "zyx")
	}
	if got, _ := m.DecodeString(uint32(newline)); got != "\n" {
		t.Errorf("custom A2 z-char 7 = %q, want newline", got)
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func TestEncodeWord(t *testing.T) {
	t.Run("v3 pads to six z-chars", func(t *testing.T) {
		b := NewStoryBuilder(3)
		m := newTextMachine(t, b)
		want := []uint16{0x3551, 0xC685}
		if got := m.encodeWord("hello"); !reflect.DeepEqual(got, want) {
			t.Errorf("encodeWord = %#v, want %#v", got, want)
		}
		if got := m.encodeWord("HELLO"); !reflect.DeepEqual(got, want) {
			t.Errorf("encodeWord is case-sensitive: %#v, want %#v", got, want)
		}
	})
	t.Run("v5 pads to nine z-chars", func(t *testing.T) {
		b := NewStoryBuilder(5)
		m := newTextMachine(t, b)
		want := []uint16{0x3551, 0x4685, 0x94A5}
		if got := m.encodeWord("hello"); !reflect.DeepEqual(got, want) {
			t.Errorf("encodeWord = %#v, want %#v", got, want)
		}
	})
	t.Run("long words truncate", func(t *testing.T) {
		b := NewStoryBuilder(3)
		m := newTextMachine(t, b)
		if got, want := m.encodeWord("abcdefghij"), m.encodeWord("abcdef"); !reflect.DeepEqual(got, want) {
			t.Errorf("truncated encoding = %#v, want %#v", got, want)
		}
	})
	t.Run("short words pad with z-char 5", func(t *testing.T) {
		b := NewStoryBuilder(3)
		m := newTextMachine(t, b)
		want := []uint16{0x18E5, 0x94A5}
		if got := m.encodeWord("ab"); !reflect.DeepEqual(got, want) {
			t.Errorf("encodeWord = %#v, want %#v", got, want)
		}
	})
}

func TestEncodeTextOpcode(t *testing.T) {
	b := NewStoryBuilder(5)
	src := b.Alloc(16)
	dst := b.Alloc(8)
	b.Patch(src, 'h', 'e', 'l', 'l', 'o')
	b.Emit(0xFC, 0x14, byte(src>>8), byte(src), 5, 0, byte(dst>>8), byte(dst)) // encode_text
	b.Emit(0xBA)
	m := runToStop(t, b, 1)
	mem := m.DynamicMemory()
	want := []uint16{0x3551, 0x4685, 0x94A5}
	for i, w := range want {
		got := uint16(mem[dst+2*i])<<8 | uint16(mem[dst+2*i+1])
		if got != w {
			t.Errorf("encoded word %d = %#x, want %#x", i, got, w)
		}
	}
}

package zmachine

import (
	"errors"
	"testing"
)

// dictWords encodes one word the way dictionary entries store it: padded
// and truncated to the version's fixed z-char count.
func dictWords(v byte, word string) []uint16 {
	zc, _ := encodedWordLen(v)
	zs := encodeZCharsDefault(v, word)
	for len(zs) < zc {
		zs = append(zs, 5)
	}
	return packZChars(zs[:zc])
}

// appendWords lays out big-endian words for hand-built tables.
func appendWords(bs []byte, words []uint16) []byte {
	for _, w := range words {
		bs = append(bs, byte(w>>8), byte(w))
	}
	return bs
}

// ---------------------------------------------------------------------------
// Main Dictionary
// ---------------------------------------------------------------------------

func TestDictionaryLookup(t *testing.T) {
	b := NewStoryBuilder(3)
	b.AddWord("zebra")
	b.AddWord("apple")
	b.AddWord("mango")
	m := newTextMachine(t, b)

	d := m.dictionary()
	if got := string(d.separators); got != `.,"` {
		t.Errorf("separators = %q, want %q", got, `.,"`)
	}
	if d.entryLen != 7 {
		t.Errorf("entry length = %d, want 7", d.entryLen)
	}
	if d.count != 3 {
		t.Errorf("count = %d, want 3", d.count)
	}
	if !d.sorted {
		t.Error("builder dictionary should be sorted")
	}
	for _, w := range []string{"apple", "mango", "zebra"} {
		if m.lookup(d, m.encodeWord(w)) == 0 {
			t.Errorf("lookup(%q) = 0, want an entry address", w)
		}
	}
	if got := m.lookup(d, m.encodeWord("banana")); got != 0 {
		t.Errorf("lookup(%q) = %#x, want 0", "banana", got)
	}
}

func TestTokeniseSeparators(t *testing.T) {
	b := NewStoryBuilder(3)
	b.AddWord("look")
	b.AddWord("at")
	b.AddWord(",")
	text := b.Alloc(32)
	parse := b.Alloc(32)
	b.Patch(text, 30)
	b.Patch(parse, 8)
	b.Emit(0xE4, 0x0F, byte(text>>8), byte(text), byte(parse>>8), byte(parse))
	b.Emit(0xBA)

	m := NewMachine(buildStory(t, b), 1)
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := m.Feed("look at,box"); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	mem := m.DynamicMemory()
	if n := mem[parse+1]; n != 4 {
		t.Fatalf("token count = %d, want 4 (separator self-tokenises)", n)
	}
	entries := []struct {
		known    bool
		len, pos byte
	}{
		{true, 4, 1},  // look
		{true, 2, 6},  // at
		{true, 1, 8},  // ,
		{false, 3, 9}, // box
	}
	for i, want := range entries {
		off := parse + 2 + 4*i
		addr := uint16(mem[off])<<8 | uint16(mem[off+1])
		if want.known && addr == 0 {
			t.Errorf("token %d unresolved, want a dictionary address", i)
		}
		if !want.known && addr != 0 {
			t.Errorf("token %d = %#x, want 0", i, addr)
		}
		if mem[off+2] != want.len || mem[off+3] != want.pos {
			t.Errorf("token %d = len %d pos %d, want %d, %d",
				i, mem[off+2], mem[off+3], want.len, want.pos)
		}
	}
}

// ---------------------------------------------------------------------------
// Custom Dictionaries
// ---------------------------------------------------------------------------

// buildCustomDict lays out a v5 dictionary with no separators, 8-byte
// entries, and the given signed entry count.
func buildCustomDict(count int16, words ...string) []byte {
	bs := []byte{0, 8, byte(uint16(count) >> 8), byte(uint16(count))}
	for _, w := range words {
		bs = appendWords(bs, dictWords(5, w))
		bs = append(bs, 0, 0) // entry data
	}
	return bs
}

func TestTokeniseOpcodeUnsortedDictionary(t *testing.T) {
	b := NewStoryBuilder(5)
	dict := b.Alloc(32)
	text := b.Alloc(16)
	parse := b.Alloc(16)
	// Entries deliberately out of order; the negative count forces the
	// linear search.
	b.Patch(dict, buildCustomDict(-2, "zork", "abba")...)
	b.Patch(text, 10, 4, 'a', 'b', 'b', 'a')
	b.Patch(parse, 4)
	b.Emit(0xFB, 0x03, byte(text>>8), byte(text), byte(parse>>8), byte(parse), byte(dict>>8), byte(dict))
	b.Emit(0xBA)

	m := runToStop(t, b, 1)
	mem := m.DynamicMemory()
	if n := mem[parse+1]; n != 1 {
		t.Fatalf("token count = %d, want 1", n)
	}
	wantAddr := uint16(dict + 4 + 8) // second entry
	if addr := uint16(mem[parse+2])<<8 | uint16(mem[parse+3]); addr != wantAddr {
		t.Errorf("token address = %#x, want %#x", addr, wantAddr)
	}
}

func TestTokeniseOpcodeSkipUnknown(t *testing.T) {
	b := NewStoryBuilder(5)
	dict := b.Alloc(32)
	text := b.Alloc(16)
	parse := b.Alloc(16)
	b.Patch(dict, buildCustomDict(2, "abba", "zork")...)
	b.Patch(text, 12, 8, 'q', 'q', 'q', ' ', 'a', 'b', 'b', 'a')
	// Sentinel bytes reveal which parse entries tokenise leaves alone.
	b.Patch(parse, 4, 0, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA)
	b.Emit(0xFB, 0x01, byte(text>>8), byte(text), byte(parse>>8), byte(parse), byte(dict>>8), byte(dict), 0x01)
	b.Emit(0xBA)

	m := runToStop(t, b, 1)
	mem := m.DynamicMemory()
	if n := mem[parse+1]; n != 2 {
		t.Fatalf("token count = %d, want 2", n)
	}
	for i := 0; i < 4; i++ {
		if mem[parse+2+i] != 0xAA {
			t.Errorf("unknown word entry byte %d = %#x, want untouched sentinel", i, mem[parse+2+i])
		}
	}
	if addr := uint16(mem[parse+6])<<8 | uint16(mem[parse+7]); addr != uint16(dict+4) {
		t.Errorf("known word address = %#x, want %#x", addr, dict+4)
	}
	if l, p := mem[parse+8], mem[parse+9]; l != 4 || p != 6 {
		t.Errorf("known word = len %d pos %d, want 4, 6", l, p)
	}
}

func TestParseDictionaryRejectsShortEntries(t *testing.T) {
	b := NewStoryBuilder(5)
	dict := b.Alloc(8)
	text := b.Alloc(8)
	parse := b.Alloc(8)
	b.Patch(dict, 0, 2, 0, 0) // 2-byte entries cannot hold a v5 encoded word
	b.Patch(text, 6, 1, 'a')
	b.Patch(parse, 2)
	b.Emit(0xFB, 0x03, byte(text>>8), byte(text), byte(parse>>8), byte(parse), byte(dict>>8), byte(dict))
	b.Emit(0xBA)

	m := NewMachine(buildStory(t, b), 1)
	err := m.Run()
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("Run error = %v, want *FatalError", err)
	}
}

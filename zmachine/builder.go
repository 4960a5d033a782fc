package zmachine

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// StoryBuilder: Assembling story images in memory
// ---------------------------------------------------------------------------

// StoryBuilder assembles a minimal but well-formed story image. Tests and
// tooling use it to get a runnable story without shipping one.
//
// Building runs in two phases. Layout calls (SetGlobal, AddObject, AddWord,
// SetAbbrev and friends) describe the tables; the first Alloc, Here, Emit,
// NewRoutine or NewString call freezes the tables, after which emitted
// addresses are final and may appear directly in operands. Layout calls
// after the freeze panic, as does Build on an image that cannot fit its
// addressing scheme.
type StoryBuilder struct {
	version byte
	release uint16
	serial  [6]byte
	flags1  byte

	globals    map[int]uint16
	abbrevs    map[int]string
	objects    []builderObject
	words      []string
	separators string

	alphabetAddr  int
	extensionAddr int

	img        []byte
	frozen     bool
	codeBase   int // 0 until the first emit
	objectAddr int
	dictAddr   int
	glbAddr    int
	abbrevAddr int
	entry      int
}

type builderObject struct {
	name                   string
	parent, sibling, child int
	attrs                  []int
	props                  map[int][]byte
}

// NewStoryBuilder starts an empty story of the given version.
func NewStoryBuilder(version byte) *StoryBuilder {
	if version < 1 || version > 8 {
		panic(fmt.Sprintf("story version %d out of range", version))
	}
	b := &StoryBuilder{
		version:    version,
		release:    1,
		separators: ".,\"",
		globals:    make(map[int]uint16),
		abbrevs:    make(map[int]string),
	}
	copy(b.serial[:], "000000")
	return b
}

// ---------------------------------------------------------------------------
// Layout Phase
// ---------------------------------------------------------------------------

// SetRelease sets the release number.
func (b *StoryBuilder) SetRelease(r uint16) {
	b.mustLayout("SetRelease")
	b.release = r
}

// SetSerial sets the six-character serial.
func (b *StoryBuilder) SetSerial(s string) {
	b.mustLayout("SetSerial")
	copy(b.serial[:], s)
}

// SetFlags1 ors bits into header flags 1 (bit 1 selects a time status line
// on v3).
func (b *StoryBuilder) SetFlags1(bits byte) {
	b.mustLayout("SetFlags1")
	b.flags1 |= bits
}

// SetGlobal sets the initial value of global g (0-239).
func (b *StoryBuilder) SetGlobal(g int, val uint16) {
	b.mustLayout("SetGlobal")
	if g < 0 || g > 239 {
		panic(fmt.Sprintf("global %d out of range", g))
	}
	b.globals[g] = val
}

// SetAbbrev installs abbreviation n (0-95).
func (b *StoryBuilder) SetAbbrev(n int, text string) {
	b.mustLayout("SetAbbrev")
	if n < 0 || n > 95 {
		panic(fmt.Sprintf("abbreviation %d out of range", n))
	}
	b.abbrevs[n] = text
}

// AddObject appends an object and returns its number. Attributes are given
// by number; property data must respect the version's length limit.
func (b *StoryBuilder) AddObject(name string, parent, sibling, child int, attrs []int, props map[int][]byte) int {
	b.mustLayout("AddObject")
	maxProp, maxLen, maxAttr := 31, 8, 31
	if b.version >= 4 {
		maxProp, maxLen, maxAttr = 63, 64, 47
	}
	for _, a := range attrs {
		if a < 0 || a > maxAttr {
			panic(fmt.Sprintf("attribute %d out of range", a))
		}
	}
	for p, data := range props {
		if p < 1 || p > maxProp {
			panic(fmt.Sprintf("property %d out of range", p))
		}
		if len(data) < 1 || len(data) > maxLen {
			panic(fmt.Sprintf("property %d holds %d bytes", p, len(data)))
		}
	}
	b.objects = append(b.objects, builderObject{
		name: name, parent: parent, sibling: sibling, child: child,
		attrs: attrs, props: props,
	})
	return len(b.objects)
}

// AddWord adds a dictionary word.
func (b *StoryBuilder) AddWord(word string) {
	b.mustLayout("AddWord")
	b.words = append(b.words, word)
}

// SetSeparators replaces the default word separators.
func (b *StoryBuilder) SetSeparators(s string) {
	b.mustLayout("SetSeparators")
	b.separators = s
}

func (b *StoryBuilder) mustLayout(what string) {
	if b.frozen {
		panic(what + " after layout froze")
	}
}

// ---------------------------------------------------------------------------
// Freeze: Table Assembly
// ---------------------------------------------------------------------------

func (b *StoryBuilder) freeze() {
	if b.frozen {
		return
	}
	b.frozen = true
	img := make([]byte, headerSize)

	// Abbreviation table, then the strings it points at (word addresses,
	// so strings sit at even offsets).
	b.abbrevAddr = len(img)
	img = append(img, make([]byte, 96*2)...)
	for _, n := range sortedKeys(b.abbrevs) {
		if len(img)%2 == 1 {
			img = append(img, 0)
		}
		putWord(img, b.abbrevAddr+2*n, uint16(len(img)/2))
		img = appendZWords(img, builderZWords(b.version, b.abbrevs[n]))
	}

	// Globals.
	b.glbAddr = len(img)
	img = append(img, make([]byte, 240*2)...)
	for g, v := range b.globals {
		putWord(img, b.glbAddr+2*g, v)
	}

	// Object table.
	b.objectAddr = len(img)
	img = b.appendObjects(img)

	// Dictionary.
	b.dictAddr = len(img)
	img = b.appendDictionary(img)

	b.img = img
}

func (b *StoryBuilder) appendObjects(img []byte) []byte {
	defaults, entrySize, attrBytes := 31, 9, 4
	if b.version >= 4 {
		defaults, entrySize, attrBytes = 63, 14, 6
	}
	img = append(img, make([]byte, defaults*2)...)

	entriesAt := len(img)
	img = append(img, make([]byte, entrySize*len(b.objects))...)

	for i, o := range b.objects {
		at := entriesAt + entrySize*i
		for _, a := range o.attrs {
			img[at+a/8] |= 0x80 >> (a % 8)
		}
		if b.version <= 3 {
			if o.parent > 255 || o.sibling > 255 || o.child > 255 {
				panic("object number over 255 in a v1-3 story")
			}
			img[at+4] = byte(o.parent)
			img[at+5] = byte(o.sibling)
			img[at+6] = byte(o.child)
		} else {
			putWord(img, at+attrBytes, uint16(o.parent))
			putWord(img, at+attrBytes+2, uint16(o.sibling))
			putWord(img, at+attrBytes+4, uint16(o.child))
		}

		// Property table: short name, then properties in descending order.
		putWord(img, at+entrySize-2, uint16(len(img)))
		nameWords := builderZWords(b.version, o.name)
		img = append(img, byte(len(nameWords)))
		img = appendZWords(img, nameWords)
		for _, p := range sortedKeysDesc(o.props) {
			data := o.props[p]
			if b.version <= 3 {
				img = append(img, byte((len(data)-1)<<5|p))
			} else {
				switch len(data) {
				case 1:
					img = append(img, byte(p))
				case 2:
					img = append(img, byte(0x40|p))
				default:
					img = append(img, byte(0x80|p), 0x80|byte(len(data)&0x3F))
				}
			}
			img = append(img, data...)
		}
		img = append(img, 0)
	}
	return img
}

func (b *StoryBuilder) appendDictionary(img []byte) []byte {
	_, encBytes := encodedWordLen(b.version)
	entryLen := encBytes + 3 // three data bytes, as released games carry

	img = append(img, byte(len(b.separators)))
	img = append(img, b.separators...)
	img = append(img, byte(entryLen))

	encoded := make([][]byte, len(b.words))
	for i, w := range b.words {
		zchars, _ := encodedWordLen(b.version)
		zs := encodeZCharsDefault(b.version, strings.ToLower(w))
		for len(zs) < zchars {
			zs = append(zs, 5)
		}
		enc := make([]byte, 0, entryLen)
		for _, word := range packZChars(zs[:zchars]) {
			enc = append(enc, byte(word>>8), byte(word))
		}
		encoded[i] = append(enc, 0, 0, 0)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	count := make([]byte, 2)
	putWord(count, 0, uint16(len(encoded)))
	img = append(img, count...)
	for _, e := range encoded {
		img = append(img, e...)
	}
	return img
}

// ---------------------------------------------------------------------------
// Code Phase
// ---------------------------------------------------------------------------

// Alloc reserves n zeroed bytes of dynamic memory, returning the address.
// Allocations must precede the first code emit.
func (b *StoryBuilder) Alloc(n int) int {
	b.freeze()
	if b.codeBase != 0 {
		panic("Alloc after code emission began")
	}
	addr := len(b.img)
	b.img = append(b.img, make([]byte, n)...)
	return addr
}

// Here returns the address the next emit will land on.
func (b *StoryBuilder) Here() int {
	b.startCode()
	return len(b.img)
}

// Emit appends raw instruction bytes, returning the address of the first.
func (b *StoryBuilder) Emit(bs ...byte) int {
	b.startCode()
	addr := len(b.img)
	b.img = append(b.img, bs...)
	return addr
}

// EmitWord appends a big-endian word.
func (b *StoryBuilder) EmitWord(w uint16) int {
	return b.Emit(byte(w>>8), byte(w))
}

// EmitZString appends encoded text, as the print opcodes expect inline.
func (b *StoryBuilder) EmitZString(text string) int {
	b.startCode()
	addr := len(b.img)
	b.img = appendZWords(b.img, builderZWords(b.version, text))
	return addr
}

// NewRoutine starts a routine on packed alignment: the local-count byte and,
// on v1-4, the default words. It returns the packed address for call
// operands.
func (b *StoryBuilder) NewRoutine(nlocals int, defaults ...uint16) int {
	if nlocals > 15 || len(defaults) > nlocals {
		panic("bad routine shape")
	}
	b.startCode()
	b.alignPacked()
	packed := len(b.img) / int(packedUnit(b.version))
	b.img = append(b.img, byte(nlocals))
	if b.version <= 4 {
		for i := 0; i < nlocals; i++ {
			var d uint16
			if i < len(defaults) {
				d = defaults[i]
			}
			var w [2]byte
			putWord(w[:], 0, d)
			b.img = append(b.img, w[:]...)
		}
	} else if len(defaults) > 0 {
		panic("local defaults are a v1-4 feature")
	}
	return packed
}

// NewString places encoded text on packed alignment and returns the packed
// address for print_paddr operands.
func (b *StoryBuilder) NewString(text string) int {
	b.startCode()
	b.alignPacked()
	packed := len(b.img) / int(packedUnit(b.version))
	b.img = appendZWords(b.img, builderZWords(b.version, text))
	return packed
}

// SetEntry sets the execution start: the absolute address of the first
// instruction, or on v6 the packed address of the main routine.
func (b *StoryBuilder) SetEntry(addr int) {
	b.entry = addr
}

func (b *StoryBuilder) startCode() {
	b.freeze()
	if b.codeBase != 0 {
		return
	}
	b.alignPacked()
	b.codeBase = len(b.img)
}

func (b *StoryBuilder) alignPacked() {
	unit := int(packedUnit(b.version))
	for len(b.img)%unit != 0 {
		b.img = append(b.img, 0)
	}
}

// Patch overwrites bytes already in the image, for pre-filled buffers and
// custom header-extension tables.
func (b *StoryBuilder) Patch(addr int, bs ...byte) {
	b.freeze()
	if addr < 0 || addr+len(bs) > len(b.img) {
		panic("Patch outside the image")
	}
	copy(b.img[addr:], bs)
}

// SetAlphabetAddr points the header at a custom alphabet table (v5+).
func (b *StoryBuilder) SetAlphabetAddr(addr int) { b.alphabetAddr = addr }

// SetExtensionAddr points the header at a header extension table.
func (b *StoryBuilder) SetExtensionAddr(addr int) { b.extensionAddr = addr }

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Build finalizes the header and parses the result.
func (b *StoryBuilder) Build() (*Story, error) {
	b.startCode()
	img := b.img

	// Pad to a whole file-length unit so the header length is exact.
	unit := int(fileLengthUnit(b.version))
	for len(img)%unit != 0 {
		img = append(img, 0)
	}
	if len(img) > 0xFFFF && b.version <= 3 {
		return nil, fmt.Errorf("story image is %d bytes, over the v%d limit", len(img), b.version)
	}

	entry := b.entry
	if entry == 0 {
		entry = b.codeBase
		if b.version == 6 {
			entry = b.codeBase / int(packedUnit(b.version))
		}
	}

	img[hdrVersion] = b.version
	img[hdrFlags1] = b.flags1
	putWord(img, hdrRelease, b.release)
	putWord(img, hdrHighBase, uint16(b.codeBase))
	putWord(img, hdrInitialPC, uint16(entry))
	putWord(img, hdrDictionary, uint16(b.dictAddr))
	putWord(img, hdrObjectTable, uint16(b.objectAddr))
	putWord(img, hdrGlobals, uint16(b.glbAddr))
	putWord(img, hdrStaticBase, uint16(b.codeBase))
	copy(img[hdrSerial:], b.serial[:])
	putWord(img, hdrAbbreviations, uint16(b.abbrevAddr))
	putWord(img, hdrFileLength, uint16(len(img)/unit))
	putWord(img, hdrAlphabetTable, uint16(b.alphabetAddr))
	putWord(img, hdrExtensionTab, uint16(b.extensionAddr))

	var sum uint16
	for _, c := range img[headerSize:] {
		sum += uint16(c)
	}
	putWord(img, hdrChecksum, sum)

	return LoadStory(img)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// builderZWords encodes text with the standard alphabets, padded to whole
// words with the end bit set.
func builderZWords(version byte, text string) []uint16 {
	zs := encodeZCharsDefault(version, text)
	for len(zs)%3 != 0 || len(zs) == 0 {
		zs = append(zs, 5)
	}
	return packZChars(zs)
}

func appendZWords(img []byte, words []uint16) []byte {
	for _, w := range words {
		img = append(img, byte(w>>8), byte(w))
	}
	return img
}

func putWord(b []byte, off int, w uint16) {
	b[off] = byte(w >> 8)
	b[off+1] = byte(w)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedKeysDesc(m map[int][]byte) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return keys
}

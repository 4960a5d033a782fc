package zmachine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Header Parsing
// ---------------------------------------------------------------------------

func TestLoadStoryHeader(t *testing.T) {
	b := NewStoryBuilder(5)
	b.SetRelease(77)
	b.SetSerial("260825")
	b.AddObject("thing", 0, 0, 0, nil, nil)
	b.AddWord("look")
	b.Emit(0xBA)
	story := buildStory(t, b)

	if story.Version != 5 {
		t.Errorf("Version = %d, want 5", story.Version)
	}
	if story.Release != 77 {
		t.Errorf("Release = %d, want 77", story.Release)
	}
	if got := string(story.Serial[:]); got != "260825" {
		t.Errorf("Serial = %q, want %q", got, "260825")
	}
	if story.Dictionary == 0 || story.ObjectTable == 0 || story.Globals == 0 {
		t.Errorf("table addresses = dict %#x obj %#x glob %#x, want all nonzero",
			story.Dictionary, story.ObjectTable, story.Globals)
	}
	if story.StaticBase != story.HighBase {
		t.Errorf("StaticBase %#x != HighBase %#x", story.StaticBase, story.HighBase)
	}
	if story.InitialPC != uint32(story.StaticBase) {
		t.Errorf("InitialPC = %#x, want code base %#x", story.InitialPC, story.StaticBase)
	}
	if story.FileLength != uint32(story.Size()) {
		t.Errorf("FileLength = %d, want file size %d", story.FileLength, story.Size())
	}
	if got := story.ComputeChecksum(); got != story.Checksum {
		t.Errorf("ComputeChecksum = %#x, header records %#x", got, story.Checksum)
	}
}

func TestLoadStoryErrors(t *testing.T) {
	t.Run("too short for a header", func(t *testing.T) {
		_, err := LoadStory(make([]byte, 32))
		if !errors.Is(err, ErrStoryTooShort) {
			t.Errorf("LoadStory = %v, want %v", err, ErrStoryTooShort)
		}
	})
	t.Run("unsupported version", func(t *testing.T) {
		img := make([]byte, 64)
		img[0] = 9
		_, err := LoadStory(img)
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("LoadStory = %v, want %v", err, ErrUnsupportedVersion)
		}
	})
	t.Run("shorter than the header claims", func(t *testing.T) {
		b := NewStoryBuilder(3)
		b.Emit(0xBA)
		img := buildStory(t, b).Bytes()
		_, err := LoadStory(img[:len(img)-2])
		if !errors.Is(err, ErrStoryTooShort) {
			t.Errorf("LoadStory = %v, want %v", err, ErrStoryTooShort)
		}
	})
}

func TestLoadStoryCopiesImage(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0xBA)
	img := append([]byte(nil), buildStory(t, b).Bytes()...)
	story, err := LoadStory(img)
	if err != nil {
		t.Fatalf("LoadStory: %v", err)
	}
	img[0x40] ^= 0xFF
	if story.Bytes()[0x40] == img[0x40] {
		t.Error("story image aliases the caller's slice")
	}
}

// ---------------------------------------------------------------------------
// Packed Addresses
// ---------------------------------------------------------------------------

func TestPackedAddressScaling(t *testing.T) {
	for _, v := range []byte{1, 3, 4, 5, 8} {
		b := NewStoryBuilder(v)
		b.Emit(0xBA)
		r := b.NewRoutine(0)
		b.Emit(0xB0)
		story := buildStory(t, b)
		unit := packedUnit(v)
		if got := story.RoutineAddr(uint16(r)); got != uint32(r)*unit {
			t.Errorf("v%d: RoutineAddr(%#x) = %#x, want %#x", v, r, got, uint32(r)*unit)
		}
	}
}

func TestPackedAddressOffsets(t *testing.T) {
	// Versions 6 and 7 add scaled header offsets to routine and string
	// addresses.
	img := make([]byte, 128)
	img[hdrVersion] = 6
	img[hdrStaticBase+1] = 0x40
	putWord(img, hdrRoutinesOff, 2)
	putWord(img, hdrStringsOff, 3)
	story, err := LoadStory(img)
	if err != nil {
		t.Fatalf("LoadStory: %v", err)
	}
	if got := story.RoutineAddr(10); got != 10*4+2*8 {
		t.Errorf("RoutineAddr(10) = %d, want %d", got, 10*4+2*8)
	}
	if got := story.StringAddr(10); got != 10*4+3*8 {
		t.Errorf("StringAddr(10) = %d, want %d", got, 10*4+3*8)
	}
}

func TestV6InitialPCSkipsLocalCount(t *testing.T) {
	b := NewStoryBuilder(6)
	b.NewRoutine(3)
	b.Emit(0xBA)
	story := buildStory(t, b)
	if story.InitialPC != uint32(story.StaticBase)+1 {
		t.Errorf("InitialPC = %#x, want %#x (past the local count byte)",
			story.InitialPC, uint32(story.StaticBase)+1)
	}
	m := NewMachine(story, 1)
	if n := len(m.frames[0].locals); n != 3 {
		t.Errorf("main routine locals = %d, want 3", n)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Story Cache
// ---------------------------------------------------------------------------

func TestStoryCacheDeduplicates(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0xBA)
	img1 := buildStory(t, b).Bytes()

	b2 := NewStoryBuilder(3)
	b2.SetRelease(2)
	b2.Emit(0xBA)
	img2 := buildStory(t, b2).Bytes()

	cache := NewStoryCache()
	s1, err := cache.Load(img1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s1b, err := cache.Load(append([]byte(nil), img1...))
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if s1 != s1b {
		t.Error("identical bytes produced distinct Story values")
	}
	s2, err := cache.Load(img2)
	if err != nil {
		t.Fatalf("Load second story: %v", err)
	}
	if s2 == s1 {
		t.Error("distinct stories share a cache entry")
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, want 2", cache.Len())
	}
	if got, ok := cache.Lookup(HashStory(img1)); !ok || got != s1 {
		t.Errorf("Lookup = %v, %v, want the cached story", got, ok)
	}
	if _, ok := cache.Lookup([32]byte{}); ok {
		t.Error("Lookup of an unknown hash reported a hit")
	}
}

func TestStoryCacheLoadFile(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0xBA)
	img := buildStory(t, b).Bytes()

	path := filepath.Join(t.TempDir(), "mini.z3")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cache := NewStoryCache()
	story, err := cache.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if story.Version != 3 {
		t.Errorf("Version = %d, want 3", story.Version)
	}
	if _, err := cache.LoadFile(filepath.Join(t.TempDir(), "absent.z3")); err == nil {
		t.Error("LoadFile on a missing path succeeded")
	}
}

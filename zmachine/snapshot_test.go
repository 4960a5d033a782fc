package zmachine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
)

// readFixture builds a v3 story that rolls a die, blocks on input, rolls
// again, and prints the second roll. Restores landing before the read must
// reproduce the second roll exactly.
func readFixture(t *testing.T) *Story {
	b := NewStoryBuilder(3)
	text := b.Alloc(16)
	parse := b.Alloc(12)
	b.Patch(text, 12)
	b.Patch(parse, 2)
	b.Emit(0xE7, 0x7F, 0x32, 0x13)                                           // random 50 -> G3
	b.Emit(0xE4, 0x0F, byte(text>>8), byte(text), byte(parse>>8), byte(parse)) // sread
	b.Emit(0xE7, 0x7F, 0x32, 0x14)                                           // random 50 -> G4
	b.Emit(0xE6, 0xBF, 0x14)                                                 // print_num G4
	b.Emit(0xBA)                                                             // quit
	return buildStory(t, b)
}

// feedAndFinish supplies one line of input and expects the story to halt.
func feedAndFinish(t *testing.T, m *Machine, line string) {
	t.Helper()
	if err := m.Feed(line); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("state after feed = %v, want %v", m.State(), StateHalted)
	}
}

// ---------------------------------------------------------------------------
// Capture and Restore
// ---------------------------------------------------------------------------

func TestCaptureRestoreRoundTrip(t *testing.T) {
	story := readFixture(t)

	m1 := NewMachine(story, 42)
	if err := m1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m1.State() != StateWaitingForInput {
		t.Fatalf("state = %v, want %v", m1.State(), StateWaitingForInput)
	}
	snap := m1.Capture()
	if snap.Pending == nil {
		t.Fatal("snapshot of a blocked machine has no pending read")
	}
	if snap.Pending.Char {
		t.Error("pending read marked as char input, want line")
	}

	feedAndFinish(t, m1, "go")
	out1 := m1.Drain()
	roll := m1.ReadGlobal(4)
	if roll < 1 || roll > 50 {
		t.Fatalf("second roll = %d, want 1..50", roll)
	}

	// A different construction seed must not matter once the snapshot's
	// RNG position is applied.
	m2 := NewMachine(story, 999)
	if err := m2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m2.State() != StateWaitingForInput {
		t.Fatalf("state after restore = %v, want %v", m2.State(), StateWaitingForInput)
	}
	feedAndFinish(t, m2, "go")

	if out2 := m2.Drain(); out2 != out1 {
		t.Errorf("replayed output = %q, want %q", out2, out1)
	}
	if got := m2.ReadGlobal(4); got != roll {
		t.Errorf("replayed roll = %d, want %d", got, roll)
	}
	if !bytes.Equal(m1.DynamicMemory(), m2.DynamicMemory()) {
		t.Error("dynamic memory diverged between original and restored runs")
	}
}

func TestMarshalSnapshotCanonical(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0x0D, 0x10, 0x2A) // store G0, 42
	b.Emit(0xBA)
	m := runToStop(t, b, 7)
	snap := m.Capture()

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if decoded.Release != snap.Release || decoded.PC != snap.PC {
		t.Errorf("decoded release/pc = %d/%#x, want %d/%#x",
			decoded.Release, decoded.PC, snap.Release, snap.PC)
	}
	if !bytes.Equal(decoded.Memory, snap.Memory) {
		t.Error("decoded memory differs from the original")
	}
	again, err := MarshalSnapshot(decoded)
	if err != nil {
		t.Fatalf("MarshalSnapshot (second): %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-encoding a decoded snapshot changed the bytes")
	}

	if _, err := UnmarshalSnapshot([]byte{0xFF, 0x00, 0x13}); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("UnmarshalSnapshot(garbage) = %v, want %v", err, ErrCorruptSnapshot)
	}
}

func TestRestoreMismatch(t *testing.T) {
	m1 := NewMachine(readFixture(t), 1)
	snap := m1.Capture()

	other := NewStoryBuilder(3)
	other.SetRelease(77)
	other.Emit(0xBA)
	m2 := NewMachine(buildStory(t, other), 1)
	if err := m2.Restore(snap); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("Restore on another story = %v, want %v", err, ErrSnapshotMismatch)
	}

	bad := *snap
	bad.Frames = nil
	if err := m1.Restore(&bad); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("Restore with no frames = %v, want %v", err, ErrCorruptSnapshot)
	}
	bad = *snap
	bad.Memory = bad.Memory[:len(bad.Memory)-1]
	if err := m1.Restore(&bad); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("Restore with short memory = %v, want %v", err, ErrCorruptSnapshot)
	}
}

// ---------------------------------------------------------------------------
// In-Game Save Opcodes
// ---------------------------------------------------------------------------

func TestInGameSaveStoreForm(t *testing.T) {
	b := NewStoryBuilder(5)
	b.Emit(0xBE, 0x00, 0xFF, 0x10) // save -> G0
	b.Emit(0x41, 0x10, 0x02, 0xC9) // je G0, 2 [on true -> quit]
	b.Emit(0x0D, 0x11, 0x05)       // store G1, 5
	b.Emit(0xBE, 0x01, 0xFF, 0x12) // restore -> G2
	b.Emit(0xBA)                   // quit

	m := NewMachine(buildStory(t, b), 1)
	var saved *Snapshot
	m.SetSaveHandler(func(s *Snapshot) error { saved = s; return nil })
	m.SetRestoreHandler(func() (*Snapshot, error) { return saved, nil })
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.State() != StateHalted {
		t.Fatalf("state = %v, want %v", m.State(), StateHalted)
	}
	if saved == nil {
		t.Fatal("save handler never ran")
	}
	if saved.Pending != nil {
		t.Error("opcode snapshot has a pending read, want none")
	}
	// The restore rewound G1 and re-reported the save's result as 2.
	wantGlobal(t, m, 0, 2)
	wantGlobal(t, m, 1, 0)
}

func TestInGameSaveBranchForm(t *testing.T) {
	b := NewStoryBuilder(3)
	saveAddr := b.Emit(0xB5, 0xC5) // save [on true skip 3]
	b.Emit(0x0D, 0x10, 0x01)       // store G0, 1 (save failure marker)
	b.Emit(0x95, 0x12)             // inc G2
	b.Emit(0xB6, 0xC5)             // restore [on true skip 3]
	b.Emit(0x95, 0x12)             // inc G2 (runs once restore fails)
	b.Emit(0xBA)                   // quit
	b.Emit(0xBA)                   // restore's never-taken branch target

	m := NewMachine(buildStory(t, b), 1)
	var saved *Snapshot
	calls := 0
	m.SetSaveHandler(func(s *Snapshot) error { saved = s; return nil })
	m.SetRestoreHandler(func() (*Snapshot, error) {
		if calls++; calls == 1 {
			return saved, nil
		}
		return nil, nil
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// First pass: inc, restore. The replay rewinds G2 to zero, increments
	// again, fails the second restore, and falls through to the final inc.
	if calls != 2 {
		t.Errorf("restore handler ran %d times, want 2", calls)
	}
	if saved == nil {
		t.Fatal("save handler never ran")
	}
	if want := uint32(saveAddr + 1); saved.PC != want {
		t.Errorf("snapshot resumes at %#x, want the save's branch data %#x", saved.PC, want)
	}
	wantGlobal(t, m, 2, 2)
	wantGlobal(t, m, 0, 0)
	if m.State() != StateHalted {
		t.Errorf("state = %v, want %v", m.State(), StateHalted)
	}
}

func TestSaveWithoutHandlerFails(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0xB5, 0xC5)       // save [on true skip 3]
	b.Emit(0x0D, 0x10, 0x01) // store G0, 1
	b.Emit(0xBA)
	b.Emit(0xBA)
	m := runToStop(t, b, 1)
	wantGlobal(t, m, 0, 1)
}

// ---------------------------------------------------------------------------
// Undo
// ---------------------------------------------------------------------------

func TestUndoOpcodes(t *testing.T) {
	b := NewStoryBuilder(5)
	b.Emit(0xBE, 0x09, 0xFF, 0x15) // save_undo -> G5
	b.Emit(0x41, 0x15, 0x02, 0xC9) // je G5, 2 [on true -> quit]
	b.Emit(0x0D, 0x10, 0x07)       // store G0, 7
	b.Emit(0xBE, 0x0A, 0xFF, 0x16) // restore_undo -> G6
	b.Emit(0xBA)                   // quit
	m := runToStop(t, b, 1)

	// restore_undo rewound the G0 write; the interrupted save_undo reports 2.
	wantGlobal(t, m, 5, 2)
	wantGlobal(t, m, 0, 0)
	if m.State() != StateHalted {
		t.Errorf("state = %v, want %v", m.State(), StateHalted)
	}
}

func TestRestoreUndoEmptyRing(t *testing.T) {
	b := NewStoryBuilder(5)
	b.Emit(0xBE, 0x0A, 0xFF, 0x10) // restore_undo -> G0
	b.Emit(0xBA)
	m := runToStop(t, b, 1)
	wantGlobal(t, m, 0, 0)
}

func TestUndoRingDepth(t *testing.T) {
	var u undoRing
	for i := 0; i < DefaultUndoSlots+3; i++ {
		u.push(&Snapshot{Release: uint16(i)})
	}
	if len(u.slots) != DefaultUndoSlots {
		t.Fatalf("ring holds %d slots, want %d", len(u.slots), DefaultUndoSlots)
	}
	if got := u.pop(); got.Release != DefaultUndoSlots+2 {
		t.Errorf("pop release = %d, want %d (newest)", got.Release, DefaultUndoSlots+2)
	}
	for i := 0; i < DefaultUndoSlots-1; i++ {
		if u.pop() == nil {
			t.Fatalf("ring emptied after %d pops, want %d", i+1, DefaultUndoSlots-1)
		}
	}
	if u.pop() != nil {
		t.Error("pop on an empty ring != nil")
	}
}

// ---------------------------------------------------------------------------
// Quetzal Round Trips
// ---------------------------------------------------------------------------

func TestQuetzalRoundTrip(t *testing.T) {
	story := readFixture(t)

	m1 := NewMachine(story, 42)
	if err := m1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var buf bytes.Buffer
	if err := m1.SaveQuetzal(&buf); err != nil {
		t.Fatalf("SaveQuetzal: %v", err)
	}
	feedAndFinish(t, m1, "go")
	out1 := m1.Drain()

	m2 := NewMachine(story, 7)
	if err := m2.RestoreQuetzal(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("RestoreQuetzal: %v", err)
	}
	if m2.State() != StateWaitingForInput {
		t.Fatalf("state after restore = %v, want %v", m2.State(), StateWaitingForInput)
	}
	feedAndFinish(t, m2, "go")

	if out2 := m2.Drain(); out2 != out1 {
		t.Errorf("replayed output = %q, want %q", out2, out1)
	}
	if g1, g2 := m1.ReadGlobal(4), m2.ReadGlobal(4); g1 != g2 {
		t.Errorf("replayed roll = %d, want %d", g2, g1)
	}
}

func TestQuetzalFileRoundTrip(t *testing.T) {
	story := readFixture(t)
	path := filepath.Join(t.TempDir(), "game.qzl")

	m1 := NewMachine(story, 42)
	if err := m1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := m1.SaveQuetzalFile(path); err != nil {
		t.Fatalf("SaveQuetzalFile: %v", err)
	}
	feedAndFinish(t, m1, "go")

	m2 := NewMachine(story, 7)
	if err := m2.RestoreQuetzalFile(path); err != nil {
		t.Fatalf("RestoreQuetzalFile: %v", err)
	}
	feedAndFinish(t, m2, "go")
	if g1, g2 := m1.ReadGlobal(4), m2.ReadGlobal(4); g1 != g2 {
		t.Errorf("replayed roll = %d, want %d", g2, g1)
	}

	if _, err := ReadQuetzalFile(filepath.Join(t.TempDir(), "absent.qzl"), story); err == nil {
		t.Error("ReadQuetzalFile on a missing path succeeded")
	}
}

func TestCompressMemoryRoundTrip(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Alloc(700)
	b.Emit(0xBA)
	story := buildStory(t, b)
	size := int(story.StaticBase)

	mem := append([]byte(nil), story.data[:size]...)
	mem[0x40] ^= 0xA5
	mem[0x40+400] ^= 0x11 // zero run longer than one 256-byte token
	mem[size-1] ^= 0x01

	compressed := compressMemory(story, mem)
	if len(compressed) >= size {
		t.Fatalf("compressed %d bytes into %d, want smaller", size, len(compressed))
	}
	out, err := expandMemory(story, compressed)
	if err != nil {
		t.Fatalf("expandMemory: %v", err)
	}
	if !bytes.Equal(out, mem) {
		t.Error("expanded memory differs from the edited image")
	}

	// An untouched image compresses to nothing: trailing runs are implicit.
	pristine := append([]byte(nil), story.data[:size]...)
	if c := compressMemory(story, pristine); len(c) != 0 {
		t.Errorf("pristine image compressed to %d bytes, want 0", len(c))
	}
	out, err = expandMemory(story, nil)
	if err != nil {
		t.Fatalf("expandMemory(nil): %v", err)
	}
	if !bytes.Equal(out, pristine) {
		t.Error("expanding an empty body does not yield the pristine image")
	}
}

// ---------------------------------------------------------------------------
// Quetzal Robustness
// ---------------------------------------------------------------------------

// buildQuetzal assembles a FORM/IFZS stream from hand-built chunks.
func buildQuetzal(chunks func(*bytes.Buffer)) []byte {
	var body bytes.Buffer
	body.Write(idIFZS[:])
	if chunks != nil {
		chunks(&body)
	}
	var out bytes.Buffer
	out.Write(idFORM[:])
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], uint32(body.Len()))
	out.Write(ln[:])
	body.WriteTo(&out)
	return out.Bytes()
}

func TestQuetzalCorrupt(t *testing.T) {
	b := NewStoryBuilder(3)
	b.Emit(0xBA)
	story := buildStory(t, b)

	ifhd := make([]byte, 13)
	binary.BigEndian.PutUint16(ifhd, story.Release)
	copy(ifhd[2:8], story.Serial[:])
	binary.BigEndian.PutUint16(ifhd[8:], story.Checksum)

	overrun := bytes.Repeat([]byte{0x00, 0xFF}, int(story.StaticBase)/256+2)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not IFF", []byte{'X', 'X', 'X', 'X', 0, 0, 0, 0}},
		{"FORM length overruns file", []byte{'F', 'O', 'R', 'M', 0, 0, 0, 0xFF}},
		{"wrong FORM type", append([]byte{'F', 'O', 'R', 'M', 0, 0, 0, 4}, []byte("IFZX")...)},
		{"missing IFhd", buildQuetzal(nil)},
		{"missing memory", buildQuetzal(func(w *bytes.Buffer) {
			writeChunk(w, idIFhd, ifhd)
		})},
		{"missing stacks", buildQuetzal(func(w *bytes.Buffer) {
			writeChunk(w, idIFhd, ifhd)
			writeChunk(w, idUMem, []byte{1, 2, 3, 4})
		})},
		{"IFhd too short", buildQuetzal(func(w *bytes.Buffer) {
			writeChunk(w, idIFhd, ifhd[:5])
		})},
		{"CMem overruns dynamic memory", buildQuetzal(func(w *bytes.Buffer) {
			writeChunk(w, idIFhd, ifhd)
			writeChunk(w, idCMem, overrun)
		})},
		{"empty Stks", buildQuetzal(func(w *bytes.Buffer) {
			writeChunk(w, idIFhd, ifhd)
			writeChunk(w, idUMem, []byte{1, 2, 3, 4})
			writeChunk(w, idStks, nil)
		})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadQuetzalBytes(tc.data, story); !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("ReadQuetzalBytes = %v, want %v", err, ErrCorruptSnapshot)
			}
		})
	}
}

func TestQuetzalFingerprintFlip(t *testing.T) {
	story := readFixture(t)
	m1 := NewMachine(story, 42)
	if err := m1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var buf bytes.Buffer
	if err := m1.SaveQuetzal(&buf); err != nil {
		t.Fatalf("SaveQuetzal: %v", err)
	}

	// The IFhd body starts at offset 20; its first word is the release.
	data := buf.Bytes()
	data[21] ^= 0xFF
	if _, err := ReadQuetzalBytes(data, story); err != nil {
		t.Fatalf("ReadQuetzalBytes after flip: %v (the chunk itself is intact)", err)
	}
	m2 := NewMachine(story, 1)
	if err := m2.RestoreQuetzal(bytes.NewReader(data)); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("RestoreQuetzal = %v, want %v", err, ErrSnapshotMismatch)
	}
}

// ---------------------------------------------------------------------------
// Foreign Saves
// ---------------------------------------------------------------------------

func TestForeignSaveKeepsRNG(t *testing.T) {
	story := readFixture(t)
	m1 := NewMachine(story, 42)
	snap := m1.Capture()
	// Saves from other interpreters carry no RNG chunk.
	snap.RNGSeed = 0
	snap.RNGDraws = 0

	m2 := NewMachine(story, 123)
	if err := m2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	seed, draws := m2.rng.state()
	if seed != 123 || draws != 0 {
		t.Errorf("rng after restore = seed %d draws %d, want the machine's own 123/0", seed, draws)
	}
}

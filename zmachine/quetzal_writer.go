package zmachine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Quetzal Save Files
// ---------------------------------------------------------------------------

// The on-media snapshot form is a Quetzal IFF stream: a FORM of type IFZS
// holding an IFhd story fingerprint, the dynamic memory as CMem (XOR run
// length against the pristine image) or UMem (raw), and the call stack as
// Stks. Two implementation chunks ride along: ZRnd with the RNG position
// and, for snapshots taken while the story awaits input, XPnd with the
// pending read. Foreign readers skip both by the IFF rules; foreign saves
// lack them and restore through the standard resume path.

var (
	idFORM = [4]byte{'F', 'O', 'R', 'M'}
	idIFZS = [4]byte{'I', 'F', 'Z', 'S'}
	idIFhd = [4]byte{'I', 'F', 'h', 'd'}
	idCMem = [4]byte{'C', 'M', 'e', 'm'}
	idUMem = [4]byte{'U', 'M', 'e', 'm'}
	idStks = [4]byte{'S', 't', 'k', 's'}
	idZRnd = [4]byte{'Z', 'R', 'n', 'd'}
	idXPnd = [4]byte{'X', 'P', 'n', 'd'}
)

// WriteQuetzal serializes a snapshot of the given story.
func WriteQuetzal(w io.Writer, story *Story, snap *Snapshot) error {
	var body bytes.Buffer
	body.Write(idIFZS[:])

	writeChunk(&body, idIFhd, ifhdBytes(snap))

	compressed := compressMemory(story, snap.Memory)
	if len(compressed) < len(snap.Memory) {
		writeChunk(&body, idCMem, compressed)
	} else {
		writeChunk(&body, idUMem, snap.Memory)
	}

	writeChunk(&body, idStks, stksBytes(snap))
	writeChunk(&body, idZRnd, zrndBytes(snap))
	if snap.Pending != nil {
		writeChunk(&body, idXPnd, xpndBytes(snap.Pending))
	}

	var hdr [8]byte
	copy(hdr[:4], idFORM[:])
	binary.BigEndian.PutUint32(hdr[4:], uint32(body.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write quetzal header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("write quetzal body: %w", err)
	}
	return nil
}

// WriteQuetzalFile serializes a snapshot to a named file.
func WriteQuetzalFile(path string, story *Story, snap *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create save file: %w", err)
	}
	defer f.Close()
	if err := WriteQuetzal(f, story, snap); err != nil {
		return err
	}
	return f.Close()
}

// writeChunk emits an IFF chunk with the required pad byte on odd lengths.
func writeChunk(buf *bytes.Buffer, id [4]byte, data []byte) {
	buf.Write(id[:])
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], uint32(len(data)))
	buf.Write(ln[:])
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
}

// ifhdBytes encodes the story fingerprint: release, serial, checksum, and
// the 3-byte resume program counter.
func ifhdBytes(snap *Snapshot) []byte {
	out := make([]byte, 13)
	binary.BigEndian.PutUint16(out[0:], snap.Release)
	copy(out[2:8], snap.Serial)
	binary.BigEndian.PutUint16(out[8:], snap.Checksum)
	out[10] = byte(snap.PC >> 16)
	out[11] = byte(snap.PC >> 8)
	out[12] = byte(snap.PC)
	return out
}

// compressMemory XORs dynamic memory against the pristine image and run
// length encodes the zeros: a literal nonzero byte, or 0x00 followed by the
// run length minus one. Trailing zero runs are omitted entirely.
func compressMemory(story *Story, mem []byte) []byte {
	var out bytes.Buffer
	zeros := 0
	flush := func() {
		for zeros > 0 {
			n := zeros
			if n > 256 {
				n = 256
			}
			out.WriteByte(0)
			out.WriteByte(byte(n - 1))
			zeros -= n
		}
	}
	for i, b := range mem {
		x := b ^ story.data[i]
		if x == 0 {
			zeros++
			continue
		}
		flush()
		out.WriteByte(x)
	}
	// zeros at the tail are implicit
	return out.Bytes()
}

// stksBytes encodes the call stack, outermost frame first. Frame zero is
// the dummy top-level frame of the Quetzal convention.
func stksBytes(snap *Snapshot) []byte {
	var out bytes.Buffer
	for i, f := range snap.Frames {
		out.WriteByte(byte(f.RetPC >> 16))
		out.WriteByte(byte(f.RetPC >> 8))
		out.WriteByte(byte(f.RetPC))

		flags := byte(len(f.Locals) & 0x0F)
		resultVar := byte(0)
		if f.ResultVar < 0 {
			if i > 0 {
				flags |= 0x10 // discards its result
			}
		} else {
			resultVar = byte(f.ResultVar)
		}
		out.WriteByte(flags)
		out.WriteByte(resultVar)

		args := f.Args
		if args > 7 {
			args = 7
		}
		out.WriteByte(byte((1 << uint(args)) - 1))

		var word [2]byte
		binary.BigEndian.PutUint16(word[:], uint16(len(f.Stack)))
		out.Write(word[:])
		for _, l := range f.Locals {
			binary.BigEndian.PutUint16(word[:], l)
			out.Write(word[:])
		}
		for _, s := range f.Stack {
			binary.BigEndian.PutUint16(word[:], s)
			out.Write(word[:])
		}
	}
	return out.Bytes()
}

// zrndBytes encodes the RNG position: seed and draw count.
func zrndBytes(snap *Snapshot) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:], uint64(snap.RNGSeed))
	binary.BigEndian.PutUint64(out[8:], snap.RNGDraws)
	return out
}

// xpndBytes encodes a pending input request.
func xpndBytes(p *PendingRead) []byte {
	out := make([]byte, 12)
	if p.Char {
		out[0] = 1
	}
	if p.Store >= 0 {
		out[1] = 1
		out[2] = byte(p.Store)
	}
	binary.BigEndian.PutUint32(out[4:], p.Text)
	binary.BigEndian.PutUint32(out[8:], p.Parse)
	return out
}

// ---------------------------------------------------------------------------
// Machine Save Methods
// ---------------------------------------------------------------------------

// SaveQuetzal writes the machine's current state as a Quetzal stream.
func (m *Machine) SaveQuetzal(w io.Writer) error {
	return WriteQuetzal(w, m.story, m.Capture())
}

// SaveQuetzalFile writes the machine's current state to a save file.
func (m *Machine) SaveQuetzalFile(path string) error {
	return WriteQuetzalFile(path, m.story, m.Capture())
}

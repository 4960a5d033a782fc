package zmachine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Quetzal Reading
// ---------------------------------------------------------------------------

// quetzalReader walks a byte slice with bounds-checked reads.
type quetzalReader struct {
	data   []byte
	offset int
}

func (qr *quetzalReader) readBytes(n int) ([]byte, error) {
	if n < 0 || qr.offset+n > len(qr.data) {
		return nil, fmt.Errorf("%w: truncated save data", ErrCorruptSnapshot)
	}
	out := qr.data[qr.offset : qr.offset+n]
	qr.offset += n
	return out, nil
}

func (qr *quetzalReader) readByte() (byte, error) {
	b, err := qr.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (qr *quetzalReader) readUint16() (uint16, error) {
	b, err := qr.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (qr *quetzalReader) readUint32() (uint32, error) {
	b, err := qr.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// readPC reads the 3-byte program counter form used by IFhd and Stks.
func (qr *quetzalReader) readPC() (uint32, error) {
	b, err := qr.readBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadQuetzal parses a Quetzal stream into a snapshot for the given story.
// The story is needed to expand CMem chunks and to size the memory image;
// fingerprint mismatches surface as ErrSnapshotMismatch. Unknown chunks are
// skipped, so saves written by other interpreters load as long as the
// mandatory chunks are present.
func ReadQuetzal(r io.Reader, story *Story) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read save data: %w", err)
	}
	return ReadQuetzalBytes(data, story)
}

// ReadQuetzalBytes parses an in-memory Quetzal stream.
func ReadQuetzalBytes(data []byte, story *Story) (*Snapshot, error) {
	qr := &quetzalReader{data: data}

	form, err := qr.readBytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(form, idFORM[:]) {
		return nil, fmt.Errorf("%w: not an IFF file", ErrCorruptSnapshot)
	}
	formLen, err := qr.readUint32()
	if err != nil {
		return nil, err
	}
	if int(formLen) > len(data)-8 {
		return nil, fmt.Errorf("%w: FORM length exceeds file size", ErrCorruptSnapshot)
	}
	typ, err := qr.readBytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(typ, idIFZS[:]) {
		return nil, fmt.Errorf("%w: FORM type is %q, want IFZS", ErrCorruptSnapshot, typ)
	}

	snap := &Snapshot{}
	var haveHeader, haveMemory, haveStacks bool
	end := 8 + int(formLen)

	for qr.offset < end {
		id, err := qr.readBytes(4)
		if err != nil {
			return nil, err
		}
		length, err := qr.readUint32()
		if err != nil {
			return nil, err
		}
		body, err := qr.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		if length%2 == 1 && qr.offset < end {
			qr.offset++ // pad byte
		}

		switch {
		case bytes.Equal(id, idIFhd[:]):
			if err := parseIFhd(body, snap); err != nil {
				return nil, err
			}
			haveHeader = true
		case bytes.Equal(id, idCMem[:]):
			snap.Memory, err = expandMemory(story, body)
			if err != nil {
				return nil, err
			}
			haveMemory = true
		case bytes.Equal(id, idUMem[:]):
			snap.Memory = append([]byte(nil), body...)
			haveMemory = true
		case bytes.Equal(id, idStks[:]):
			snap.Frames, err = parseStks(body)
			if err != nil {
				return nil, err
			}
			haveStacks = true
		case bytes.Equal(id, idZRnd[:]):
			if err := parseZRnd(body, snap); err != nil {
				return nil, err
			}
		case bytes.Equal(id, idXPnd[:]):
			snap.Pending, err = parseXPnd(body)
			if err != nil {
				return nil, err
			}
		default:
			// AUTH, ANNO, IntD and anything else: skip
		}
	}

	if !haveHeader {
		return nil, fmt.Errorf("%w: missing IFhd chunk", ErrCorruptSnapshot)
	}
	if !haveMemory {
		return nil, fmt.Errorf("%w: missing CMem/UMem chunk", ErrCorruptSnapshot)
	}
	if !haveStacks {
		return nil, fmt.Errorf("%w: missing Stks chunk", ErrCorruptSnapshot)
	}
	return snap, nil
}

// ReadQuetzalFile parses a Quetzal save file.
func ReadQuetzalFile(path string, story *Story) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open save file: %w", err)
	}
	defer f.Close()
	return ReadQuetzal(f, story)
}

func parseIFhd(body []byte, snap *Snapshot) error {
	if len(body) < 13 {
		return fmt.Errorf("%w: IFhd chunk too short", ErrCorruptSnapshot)
	}
	snap.Release = binary.BigEndian.Uint16(body[0:])
	snap.Serial = append([]byte(nil), body[2:8]...)
	snap.Checksum = binary.BigEndian.Uint16(body[8:])
	snap.PC = uint32(body[10])<<16 | uint32(body[11])<<8 | uint32(body[12])
	return nil
}

// expandMemory undoes the CMem encoding: XOR run length against the
// pristine image, with the tail of the dynamic region implied as unchanged.
func expandMemory(story *Story, body []byte) ([]byte, error) {
	size := int(story.StaticBase)
	out := make([]byte, size)
	pos := 0
	for i := 0; i < len(body); i++ {
		if pos >= size {
			return nil, fmt.Errorf("%w: CMem data overruns dynamic memory", ErrCorruptSnapshot)
		}
		b := body[i]
		if b != 0 {
			out[pos] = b ^ story.data[pos]
			pos++
			continue
		}
		i++
		if i >= len(body) {
			return nil, fmt.Errorf("%w: CMem zero run missing length", ErrCorruptSnapshot)
		}
		run := int(body[i]) + 1
		if pos+run > size {
			return nil, fmt.Errorf("%w: CMem zero run overruns dynamic memory", ErrCorruptSnapshot)
		}
		copy(out[pos:pos+run], story.data[pos:pos+run])
		pos += run
	}
	copy(out[pos:], story.data[pos:size])
	return out, nil
}

func parseStks(body []byte) ([]SnapshotFrame, error) {
	qr := &quetzalReader{data: body}
	var frames []SnapshotFrame
	for qr.offset < len(body) {
		retPC, err := qr.readPC()
		if err != nil {
			return nil, err
		}
		flags, err := qr.readByte()
		if err != nil {
			return nil, err
		}
		resultVar, err := qr.readByte()
		if err != nil {
			return nil, err
		}
		argMask, err := qr.readByte()
		if err != nil {
			return nil, err
		}
		stackLen, err := qr.readUint16()
		if err != nil {
			return nil, err
		}

		f := SnapshotFrame{
			RetPC:     retPC,
			ResultVar: int16(resultVar),
			Locals:    make([]uint16, flags&0x0F),
			Stack:     make([]uint16, stackLen),
		}
		if flags&0x10 != 0 || len(frames) == 0 {
			f.ResultVar = -1
		}
		for argMask&1 != 0 {
			f.Args++
			argMask >>= 1
		}
		for i := range f.Locals {
			f.Locals[i], err = qr.readUint16()
			if err != nil {
				return nil, err
			}
		}
		for i := range f.Stack {
			f.Stack[i], err = qr.readUint16()
			if err != nil {
				return nil, err
			}
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: Stks chunk holds no frames", ErrCorruptSnapshot)
	}
	return frames, nil
}

func parseZRnd(body []byte, snap *Snapshot) error {
	if len(body) < 16 {
		return fmt.Errorf("%w: ZRnd chunk too short", ErrCorruptSnapshot)
	}
	snap.RNGSeed = int64(binary.BigEndian.Uint64(body[0:]))
	snap.RNGDraws = binary.BigEndian.Uint64(body[8:])
	return nil
}

func parseXPnd(body []byte) (*PendingRead, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("%w: XPnd chunk too short", ErrCorruptSnapshot)
	}
	p := &PendingRead{
		Char:  body[0] != 0,
		Text:  binary.BigEndian.Uint32(body[4:]),
		Parse: binary.BigEndian.Uint32(body[8:]),
		Store: -1,
	}
	if body[1] != 0 {
		p.Store = int16(body[2])
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Machine Restore Methods
// ---------------------------------------------------------------------------

// RestoreQuetzal loads a Quetzal stream into the machine. Saves taken while
// the story awaited input resume waiting; saves taken by a save opcode,
// including those written by other interpreters, resume by reporting the
// saved instruction's result as 2.
func (m *Machine) RestoreQuetzal(r io.Reader) error {
	snap, err := ReadQuetzal(r, m.story)
	if err != nil {
		return err
	}
	return m.restoreSnapshot(snap)
}

// RestoreQuetzalFile loads a Quetzal save file into the machine.
func (m *Machine) RestoreQuetzalFile(path string) error {
	snap, err := ReadQuetzalFile(path, m.story)
	if err != nil {
		return err
	}
	return m.restoreSnapshot(snap)
}

func (m *Machine) restoreSnapshot(snap *Snapshot) (err error) {
	defer m.recoverFatal(&err)
	if err := m.Restore(snap); err != nil {
		return err
	}
	if snap.Pending == nil {
		m.applySavedResult(2)
	}
	return nil
}

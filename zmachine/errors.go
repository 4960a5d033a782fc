package zmachine

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Sentinel Errors
// ---------------------------------------------------------------------------

var (
	ErrStoryTooShort      = errors.New("story file shorter than its header claims")
	ErrUnsupportedVersion = errors.New("unsupported story file version")
	ErrSnapshotMismatch   = errors.New("snapshot does not match the loaded story")
	ErrCorruptSnapshot    = errors.New("corrupt snapshot data")
	ErrNotWaitingForInput = errors.New("machine is not waiting for input")
	ErrMachineHalted      = errors.New("machine has halted")
	ErrObjectCycle        = errors.New("object tree contains a cycle")
	ErrNoUndo             = errors.New("no undo state available")
)

// ---------------------------------------------------------------------------
// Fatal Errors
// ---------------------------------------------------------------------------

// FatalError reports an unrecoverable interpreter fault: a malformed opcode,
// an out-of-range memory access, a call stack violation, or an exhausted
// instruction budget. After a FatalError the machine refuses further
// execution; the only recovery paths are Reset or restoring a snapshot.
type FatalError struct {
	PC     uint32 // address of the faulting instruction
	Opcode string // opcode name when decoding got that far
	Reason string
}

func (e *FatalError) Error() string {
	if e.Opcode != "" {
		return fmt.Sprintf("fatal vm error at %#06x (%s): %s", e.PC, e.Opcode, e.Reason)
	}
	return fmt.Sprintf("fatal vm error at %#06x: %s", e.PC, e.Reason)
}

// fatalf panics with a *FatalError. Executor internals use it for conditions
// that cannot be handled locally; Run and Feed recover it at the public
// boundary and return it as an ordinary error.
func (m *Machine) fatalf(format string, args ...interface{}) {
	panic(&FatalError{
		PC:     m.curPC,
		Opcode: m.curOp,
		Reason: fmt.Sprintf(format, args...),
	})
}

// recoverFatal converts a panicking *FatalError into a returned error and
// marks the machine dead. Any other panic value is re-raised.
func (m *Machine) recoverFatal(err *error) {
	if r := recover(); r != nil {
		fe, ok := r.(*FatalError)
		if !ok {
			panic(r)
		}
		m.state = StateFatal
		m.fatal = fe
		*err = fe
	}
}

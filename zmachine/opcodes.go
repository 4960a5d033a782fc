package zmachine

// ---------------------------------------------------------------------------
// Canonical Operations
// ---------------------------------------------------------------------------

// Op identifies one Z-machine operation independent of the form it was
// encoded in. The decoder maps (form, opcode number, version) to an Op; the
// executor dispatches on it.
type Op uint8

const (
	OpIllegal Op = iota

	// 2OP operations (long form, or variable form with bit 5 clear)
	OpJE       // branch if first operand equals any other
	OpJL       // signed less-than branch
	OpJG       // signed greater-than branch
	OpDecChk   // decrement variable, branch if now less than value
	OpIncChk   // increment variable, branch if now greater than value
	OpJIn      // branch if obj1 is a direct child of obj2
	OpTest     // branch if all flags bits set in bitmap
	OpOr       // bitwise or
	OpAnd      // bitwise and
	OpTestAttr // branch if object attribute set
	OpSetAttr
	OpClearAttr
	OpStore // write value to variable by reference
	OpInsertObj
	OpLoadW // word from table
	OpLoadB // byte from table
	OpGetProp
	OpGetPropAddr
	OpGetNextProp
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpCall2S // v4: call with one argument, store
	OpCall2N // v5: call with one argument, discard
	OpSetColour
	OpThrow // v5: unwind to a catch cookie

	// 1OP operations (short form with an operand)
	OpJZ
	OpGetSibling
	OpGetChild
	OpGetParent
	OpGetPropLen
	OpInc
	OpDec
	OpPrintAddr
	OpCall1S
	OpRemoveObj
	OpPrintObj
	OpRet
	OpJump
	OpPrintPAddr
	OpLoad
	OpNot    // v1-4
	OpCall1N // v5 replaces not

	// 0OP operations
	OpRTrue
	OpRFalse
	OpPrint    // literal string follows
	OpPrintRet // literal string, newline, return true
	OpNop
	OpSave    // v1-3 branch, v4 store
	OpRestore // v1-3 branch, v4 store
	OpRestart
	OpRetPopped
	OpPop   // v1-4
	OpCatch // v5 replaces pop
	OpQuit
	OpNewLine
	OpShowStatus // v3
	OpVerify     // branch on checksum match
	OpPiracy     // v5: branch (we always report genuine)

	// VAR operations
	OpCallVS // call_vs / the v1 "call"
	OpStoreW
	OpStoreB
	OpPutProp
	OpRead // sread/aread; stores the terminator on v5+
	OpPrintChar
	OpPrintNum
	OpRandom
	OpPush
	OpPull
	OpSplitWindow
	OpSetWindow
	OpCallVS2
	OpEraseWindow
	OpEraseLine
	OpSetCursor
	OpGetCursor
	OpSetTextStyle
	OpBufferMode
	OpOutputStream
	OpInputStream
	OpSoundEffect
	OpReadChar
	OpScanTable
	OpNotVar // v5 VAR form of not
	OpCallVN
	OpCallVN2
	OpTokenise
	OpEncodeText
	OpCopyTable
	OpPrintTable
	OpCheckArgCount

	// EXT operations (v5+, prefix byte 0xBE)
	OpSaveExt
	OpRestoreExt
	OpLogShift
	OpArtShift
	OpSetFont
	OpSaveUndo
	OpRestoreUndo
	OpPrintUnicode
	OpCheckUnicode
	OpSetTrueColour
)

// OpcodeInfo carries the decoder-relevant shape of an operation. Store and
// Branch describe the common case; the handful of version exceptions are
// applied by the decoder. MinOps is the operand count the executor indexes
// unconditionally: variable-form encodings can omit any operand, so the
// decoder enforces the floor before dispatch.
type OpcodeInfo struct {
	Name   string
	Store  bool
	Branch bool
	Text   bool // a literal Z-string follows the opcode
	MinOps int
}

// opcodeTable maps canonical operations to their metadata.
var opcodeTable = map[Op]OpcodeInfo{
	OpIllegal: {Name: "illegal"},

	OpJE:          {Name: "je", Branch: true, MinOps: 1},
	OpJL:          {Name: "jl", Branch: true, MinOps: 2},
	OpJG:          {Name: "jg", Branch: true, MinOps: 2},
	OpDecChk:      {Name: "dec_chk", Branch: true, MinOps: 2},
	OpIncChk:      {Name: "inc_chk", Branch: true, MinOps: 2},
	OpJIn:         {Name: "jin", Branch: true, MinOps: 2},
	OpTest:        {Name: "test", Branch: true, MinOps: 2},
	OpOr:          {Name: "or", Store: true, MinOps: 2},
	OpAnd:         {Name: "and", Store: true, MinOps: 2},
	OpTestAttr:    {Name: "test_attr", Branch: true, MinOps: 2},
	OpSetAttr:     {Name: "set_attr", MinOps: 2},
	OpClearAttr:   {Name: "clear_attr", MinOps: 2},
	OpStore:       {Name: "store", MinOps: 2},
	OpInsertObj:   {Name: "insert_obj", MinOps: 2},
	OpLoadW:       {Name: "loadw", Store: true, MinOps: 2},
	OpLoadB:       {Name: "loadb", Store: true, MinOps: 2},
	OpGetProp:     {Name: "get_prop", Store: true, MinOps: 2},
	OpGetPropAddr: {Name: "get_prop_addr", Store: true, MinOps: 2},
	OpGetNextProp: {Name: "get_next_prop", Store: true, MinOps: 2},
	OpAdd:         {Name: "add", Store: true, MinOps: 2},
	OpSub:         {Name: "sub", Store: true, MinOps: 2},
	OpMul:         {Name: "mul", Store: true, MinOps: 2},
	OpDiv:         {Name: "div", Store: true, MinOps: 2},
	OpMod:         {Name: "mod", Store: true, MinOps: 2},
	OpCall2S:      {Name: "call_2s", Store: true, MinOps: 1},
	OpCall2N:      {Name: "call_2n", MinOps: 1},
	OpSetColour:   {Name: "set_colour"},
	OpThrow:       {Name: "throw", MinOps: 2},

	OpJZ:         {Name: "jz", Branch: true, MinOps: 1},
	OpGetSibling: {Name: "get_sibling", Store: true, Branch: true, MinOps: 1},
	OpGetChild:   {Name: "get_child", Store: true, Branch: true, MinOps: 1},
	OpGetParent:  {Name: "get_parent", Store: true, MinOps: 1},
	OpGetPropLen: {Name: "get_prop_len", Store: true, MinOps: 1},
	OpInc:        {Name: "inc", MinOps: 1},
	OpDec:        {Name: "dec", MinOps: 1},
	OpPrintAddr:  {Name: "print_addr", MinOps: 1},
	OpCall1S:     {Name: "call_1s", Store: true, MinOps: 1},
	OpRemoveObj:  {Name: "remove_obj", MinOps: 1},
	OpPrintObj:   {Name: "print_obj", MinOps: 1},
	OpRet:        {Name: "ret", MinOps: 1},
	OpJump:       {Name: "jump", MinOps: 1},
	OpPrintPAddr: {Name: "print_paddr", MinOps: 1},
	OpLoad:       {Name: "load", Store: true, MinOps: 1},
	OpNot:        {Name: "not", Store: true, MinOps: 1},
	OpCall1N:     {Name: "call_1n", MinOps: 1},

	OpRTrue:      {Name: "rtrue"},
	OpRFalse:     {Name: "rfalse"},
	OpPrint:      {Name: "print", Text: true},
	OpPrintRet:   {Name: "print_ret", Text: true},
	OpNop:        {Name: "nop"},
	OpSave:       {Name: "save", Branch: true},
	OpRestore:    {Name: "restore", Branch: true},
	OpRestart:    {Name: "restart"},
	OpRetPopped:  {Name: "ret_popped"},
	OpPop:        {Name: "pop"},
	OpCatch:      {Name: "catch", Store: true},
	OpQuit:       {Name: "quit"},
	OpNewLine:    {Name: "new_line"},
	OpShowStatus: {Name: "show_status"},
	OpVerify:     {Name: "verify", Branch: true},
	OpPiracy:     {Name: "piracy", Branch: true},

	OpCallVS:        {Name: "call_vs", Store: true, MinOps: 1},
	OpStoreW:        {Name: "storew", MinOps: 3},
	OpStoreB:        {Name: "storeb", MinOps: 3},
	OpPutProp:       {Name: "put_prop", MinOps: 3},
	OpRead:          {Name: "read", MinOps: 1},
	OpPrintChar:     {Name: "print_char", MinOps: 1},
	OpPrintNum:      {Name: "print_num", MinOps: 1},
	OpRandom:        {Name: "random", Store: true, MinOps: 1},
	OpPush:          {Name: "push", MinOps: 1},
	OpPull:          {Name: "pull", MinOps: 1},
	OpSplitWindow:   {Name: "split_window"},
	OpSetWindow:     {Name: "set_window"},
	OpCallVS2:       {Name: "call_vs2", Store: true, MinOps: 1},
	OpEraseWindow:   {Name: "erase_window"},
	OpEraseLine:     {Name: "erase_line"},
	OpSetCursor:     {Name: "set_cursor"},
	OpGetCursor:     {Name: "get_cursor", MinOps: 1},
	OpSetTextStyle:  {Name: "set_text_style"},
	OpBufferMode:    {Name: "buffer_mode"},
	OpOutputStream:  {Name: "output_stream", MinOps: 1},
	OpInputStream:   {Name: "input_stream"},
	OpSoundEffect:   {Name: "sound_effect"},
	OpReadChar:      {Name: "read_char", Store: true},
	OpScanTable:     {Name: "scan_table", Store: true, Branch: true, MinOps: 3},
	OpNotVar:        {Name: "not", Store: true, MinOps: 1},
	OpCallVN:        {Name: "call_vn", MinOps: 1},
	OpCallVN2:       {Name: "call_vn2", MinOps: 1},
	OpTokenise:      {Name: "tokenise", MinOps: 2},
	OpEncodeText:    {Name: "encode_text", MinOps: 4},
	OpCopyTable:     {Name: "copy_table", MinOps: 3},
	OpPrintTable:    {Name: "print_table", MinOps: 2},
	OpCheckArgCount: {Name: "check_arg_count", Branch: true, MinOps: 1},

	OpSaveExt:       {Name: "save", Store: true},
	OpRestoreExt:    {Name: "restore", Store: true},
	OpLogShift:      {Name: "log_shift", Store: true, MinOps: 2},
	OpArtShift:      {Name: "art_shift", Store: true, MinOps: 2},
	OpSetFont:       {Name: "set_font", Store: true},
	OpSaveUndo:      {Name: "save_undo", Store: true},
	OpRestoreUndo:   {Name: "restore_undo", Store: true},
	OpPrintUnicode:  {Name: "print_unicode", MinOps: 1},
	OpCheckUnicode:  {Name: "check_unicode", Store: true, MinOps: 1},
	OpSetTrueColour: {Name: "set_true_colour"},
}

// Info returns the metadata for an operation. Unknown operations report as
// illegal rather than panicking, so diagnostics can always render.
func (op Op) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: "illegal"}
}

// Name returns the conventional assembler name for the operation.
func (op Op) Name() string { return op.Info().Name }

// ---------------------------------------------------------------------------
// Form Tables
// ---------------------------------------------------------------------------

// ops2OP maps 2OP opcode numbers (1-28) to operations. Index 0 is unused.
var ops2OP = [32]Op{
	1:  OpJE,
	2:  OpJL,
	3:  OpJG,
	4:  OpDecChk,
	5:  OpIncChk,
	6:  OpJIn,
	7:  OpTest,
	8:  OpOr,
	9:  OpAnd,
	10: OpTestAttr,
	11: OpSetAttr,
	12: OpClearAttr,
	13: OpStore,
	14: OpInsertObj,
	15: OpLoadW,
	16: OpLoadB,
	17: OpGetProp,
	18: OpGetPropAddr,
	19: OpGetNextProp,
	20: OpAdd,
	21: OpSub,
	22: OpMul,
	23: OpDiv,
	24: OpMod,
	25: OpCall2S,
	26: OpCall2N,
	27: OpSetColour,
	28: OpThrow,
}

// ops1OP maps 1OP opcode numbers (0-15) to operations. Number 15 is not on
// v1-4 and call_1n from v5.
var ops1OP = [16]Op{
	0:  OpJZ,
	1:  OpGetSibling,
	2:  OpGetChild,
	3:  OpGetParent,
	4:  OpGetPropLen,
	5:  OpInc,
	6:  OpDec,
	7:  OpPrintAddr,
	8:  OpCall1S,
	9:  OpRemoveObj,
	10: OpPrintObj,
	11: OpRet,
	12: OpJump,
	13: OpPrintPAddr,
	14: OpLoad,
	15: OpNot,
}

// ops0OP maps 0OP opcode numbers (0-15) to operations. Number 9 is pop on
// v1-4 and catch from v5; 14 is the EXT prefix byte and never reaches the
// table.
var ops0OP = [16]Op{
	0:  OpRTrue,
	1:  OpRFalse,
	2:  OpPrint,
	3:  OpPrintRet,
	4:  OpNop,
	5:  OpSave,
	6:  OpRestore,
	7:  OpRestart,
	8:  OpRetPopped,
	9:  OpPop,
	10: OpQuit,
	11: OpNewLine,
	12: OpShowStatus,
	13: OpVerify,
	15: OpPiracy,
}

// opsVAR maps VAR opcode numbers (0-31) to operations.
var opsVAR = [32]Op{
	0:  OpCallVS,
	1:  OpStoreW,
	2:  OpStoreB,
	3:  OpPutProp,
	4:  OpRead,
	5:  OpPrintChar,
	6:  OpPrintNum,
	7:  OpRandom,
	8:  OpPush,
	9:  OpPull,
	10: OpSplitWindow,
	11: OpSetWindow,
	12: OpCallVS2,
	13: OpEraseWindow,
	14: OpEraseLine,
	15: OpSetCursor,
	16: OpGetCursor,
	17: OpSetTextStyle,
	18: OpBufferMode,
	19: OpOutputStream,
	20: OpInputStream,
	21: OpSoundEffect,
	22: OpReadChar,
	23: OpScanTable,
	24: OpNotVar,
	25: OpCallVN,
	26: OpCallVN2,
	27: OpTokenise,
	28: OpEncodeText,
	29: OpCopyTable,
	30: OpPrintTable,
	31: OpCheckArgCount,
}

// opsEXT maps EXT opcode numbers to operations. The v6 window and picture
// opcodes are deliberately absent; this core rejects stories that reach for
// them. Gaps decode as illegal.
var opsEXT = map[byte]Op{
	0:  OpSaveExt,
	1:  OpRestoreExt,
	2:  OpLogShift,
	3:  OpArtShift,
	4:  OpSetFont,
	9:  OpSaveUndo,
	10: OpRestoreUndo,
	11: OpPrintUnicode,
	12: OpCheckUnicode,
	13: OpSetTrueColour,
}

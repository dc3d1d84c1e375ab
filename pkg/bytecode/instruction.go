// Package bytecode walks JVM method code and turns invoke instructions into
// call site descriptors.
package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Instruction is one decoded instruction. Operands aliases the method's code
// array and must not be modified.
type Instruction struct {
	PC       int
	Op       byte
	Operands []byte
}

// Mnemonic returns the instruction name.
func (i Instruction) Mnemonic() string { return Mnemonic(i.Op) }

// U1 returns the operand byte at off.
func (i Instruction) U1(off int) uint8 { return i.Operands[off] }

// U2 returns the big-endian operand at off.
func (i Instruction) U2(off int) uint16 {
	return binary.BigEndian.Uint16(i.Operands[off:])
}

// Mnemonic returns the name of op, or "" if op is not a defined opcode.
func Mnemonic(op byte) string { return opcodeInfo[op].mnemonic }

// InstructionLength returns the size in bytes of the instruction at pc,
// operands included.
func InstructionLength(code []byte, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, errors.Errorf("pc %d outside code of length %d", pc, len(code))
	}
	op := code[pc]
	info := opcodeInfo[op]
	if info.mnemonic == "" {
		return 0, errors.Errorf("undefined opcode 0x%02X at pc %d", op, pc)
	}

	n := info.length
	switch op {
	case OpTableswitch, OpLookupswitch:
		var err error
		if n, err = switchLength(code, pc); err != nil {
			return 0, err
		}
	case OpWide:
		if pc+1 >= len(code) {
			return 0, errors.Errorf("wide at pc %d: missing opcode", pc)
		}
		switch code[pc+1] {
		case OpIinc:
			n = 6
		case OpIload, OpLload, OpFload, OpDload, OpAload,
			OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
			n = 4
		default:
			return 0, errors.Errorf("wide at pc %d: cannot modify %s", pc, Mnemonic(code[pc+1]))
		}
	}

	if pc+n > len(code) {
		return 0, errors.Errorf("%s at pc %d: truncated (%d bytes, %d left)", info.mnemonic, pc, n, len(code)-pc)
	}
	return n, nil
}

// switchLength sizes tableswitch and lookupswitch, whose operands start on
// the next 4-byte boundary relative to the start of the code.
func switchLength(code []byte, pc int) (int, error) {
	pad := (4 - (pc+1)%4) % 4
	base := pc + 1 + pad
	readI4 := func(off int) (int32, error) {
		if base+off+4 > len(code) {
			return 0, errors.Errorf("%s at pc %d: truncated", Mnemonic(code[pc]), pc)
		}
		return int32(binary.BigEndian.Uint32(code[base+off:])), nil
	}

	if code[pc] == OpTableswitch {
		low, err := readI4(4)
		if err != nil {
			return 0, err
		}
		high, err := readI4(8)
		if err != nil {
			return 0, err
		}
		if high < low {
			return 0, errors.Errorf("tableswitch at pc %d: high %d < low %d", pc, high, low)
		}
		return 1 + pad + 12 + 4*(int(high)-int(low)+1), nil
	}

	npairs, err := readI4(4)
	if err != nil {
		return 0, err
	}
	if npairs < 0 {
		return 0, errors.Errorf("lookupswitch at pc %d: negative npairs %d", pc, npairs)
	}
	return 1 + pad + 8 + 8*int(npairs), nil
}

// Walk calls fn for each instruction in code, in order. It stops at the
// first error from fn or from decoding.
func Walk(code []byte, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		n, err := InstructionLength(code, pc)
		if err != nil {
			return err
		}
		if err := fn(Instruction{PC: pc, Op: code[pc], Operands: code[pc+1 : pc+n]}); err != nil {
			return err
		}
		pc += n
	}
	return nil
}

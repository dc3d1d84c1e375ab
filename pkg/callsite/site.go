// Package callsite describes invoke instructions for static analysis.
//
// A Site is one invoke instruction: its offset in the containing method's
// code, the method the instruction names, and how the call is dispatched.
// Analyses create one Site per invoke instruction in the whole program, so
// the type is kept to two words.
//
// Identity is the offset alone. Two Sites at the same offset are Equal even
// if their targets or kinds differ, because a Site carries no pointer to the
// method it lives in. Offsets only mean something within one method: when
// Sites from several methods share a map, key it with Key, which pairs the
// offset with a caller-supplied routine identifier.
package callsite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/daimatz/callsites/pkg/types"
)

// ProgramCounter is the offset of an instruction within its method's code.
type ProgramCounter int32

// Equal reports whether both counters name the same offset.
func (pc ProgramCounter) Equal(o ProgramCounter) bool { return pc == o }

// Hash is a pure function of the offset.
func (pc ProgramCounter) Hash() uint64 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(pc))
	return xxhash.Sum64(b[:])
}

// Site is an immutable invoke instruction descriptor.
//
// Go's == compares every field, which is stricter than Equal. Do not use a
// Site as a map key; use ProgramCounter() within one method or Key across
// methods.
type Site struct {
	// pc and kind share a word.
	pc     ProgramCounter
	kind   Dispatch
	target *types.MethodReference
}

// Make returns the descriptor for an invoke at offset naming target. Every
// call returns a fresh value; Sites are not interned.
//
// The decoder is responsible for handing over a valid kind, a non-nil
// target and an offset inside the method. Violations panic.
func Make(offset int, target *types.MethodReference, kind Dispatch) Site {
	if !kind.Valid() {
		panic(unreachable(kind))
	}
	if target == nil {
		panic("callsite: nil declared target")
	}
	if offset < 0 || offset > math.MaxInt32 {
		panic(fmt.Sprintf("callsite: offset %d out of range", offset))
	}
	return Site{pc: ProgramCounter(offset), kind: kind, target: target}
}

// ProgramCounter returns the offset as an identity key.
func (s Site) ProgramCounter() ProgramCounter { return s.pc }

// Offset returns the position of the instruction within its method's code.
func (s Site) Offset() int { return int(s.pc) }

// DeclaredTarget returns the method named by the instruction. The method
// actually invoked at run time may differ for virtual and interface calls.
func (s Site) DeclaredTarget() *types.MethodReference { return s.target }

// Dispatch returns the kind fixed at construction.
func (s Site) Dispatch() Dispatch { return s.kind }

// IsStatic reports an invokestatic site.
func (s Site) IsStatic() bool { return s.kind == Static }

// IsSpecial reports an invokespecial site.
func (s Site) IsSpecial() bool { return s.kind == Special }

// IsVirtual reports an invokevirtual site.
func (s Site) IsVirtual() bool { return s.kind == Virtual }

// IsInterface reports an invokeinterface site.
func (s Site) IsInterface() bool { return s.kind == Interface }

// IsFixed reports whether the target is known without the receiver's type.
func (s Site) IsFixed() bool { return s.IsStatic() || s.IsSpecial() }

// IsDispatch reports whether the target depends on the receiver's run-time
// type.
func (s Site) IsDispatch() bool { return s.IsVirtual() || s.IsInterface() }

// Equal compares offsets only.
func (s Site) Equal(o Site) bool { return s.pc.Equal(o.pc) }

// Hash is consistent with Equal.
func (s Site) Hash() uint64 { return s.pc.Hash() }

// InvocationString returns the kind word, e.g. "virtual".
func (s Site) InvocationString() string { return s.kind.String() }

// String returns "invoke<kind> <target>@<offset>".
func (s Site) String() string {
	return "invoke" + s.kind.String() + " " + s.target.String() + "@" + fmt.Sprint(int32(s.pc))
}

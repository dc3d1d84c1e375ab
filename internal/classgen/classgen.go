// Package classgen assembles small class files in memory for tests.
package classgen

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"
)

// Constant pool tags, duplicated here so tests of classfile itself can use
// the generator without an import cycle.
const (
	tagUtf8               = 1
	tagLong               = 5
	tagClass              = 7
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagInvokeDynamic      = 18
)

// Builder accumulates a constant pool and methods for one class.
type Builder struct {
	pool    bytes.Buffer
	count   uint16
	cache   map[string]uint16
	flags   uint16
	this    uint16
	super   uint16
	methods [][]byte
	bsm     bool

	// handle of bootstrap method 0; zero leaves it unresolvable
	handle    uint16
	brokenBSM bool
}

// New starts a class named name extending super ("" for none).
func New(name, super string) *Builder {
	b := &Builder{count: 1, cache: map[string]uint16{}, flags: 0x0021}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

func (b *Builder) intern(key string, slots uint16, write func(w *bytes.Buffer)) uint16 {
	if idx, ok := b.cache[key]; ok {
		return idx
	}
	idx := b.count
	write(&b.pool)
	b.count += slots
	b.cache[key] = idx
	return idx
}

// Utf8 adds a CONSTANT_Utf8.
func (b *Builder) Utf8(s string) uint16 {
	return b.intern("u:"+s, 1, func(w *bytes.Buffer) {
		w.WriteByte(tagUtf8)
		writeU2(w, uint16(len(s)))
		w.WriteString(s)
	})
}

// Class adds a CONSTANT_Class.
func (b *Builder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.intern("c:"+name, 1, func(w *bytes.Buffer) {
		w.WriteByte(tagClass)
		writeU2(w, n)
	})
}

// NameAndType adds a CONSTANT_NameAndType.
func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.intern("nt:"+name+":"+desc, 1, func(w *bytes.Buffer) {
		w.WriteByte(tagNameAndType)
		writeU2(w, n)
		writeU2(w, d)
	})
}

// Methodref adds a CONSTANT_Methodref.
func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.memberref(tagMethodref, class, name, desc)
}

// InterfaceMethodref adds a CONSTANT_InterfaceMethodref.
func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.memberref(tagInterfaceMethodref, class, name, desc)
}

func (b *Builder) memberref(tag byte, class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	key := strconv.Itoa(int(tag)) + ":" + class + "." + name + desc
	return b.intern(key, 1, func(w *bytes.Buffer) {
		w.WriteByte(tag)
		writeU2(w, c)
		writeU2(w, nt)
	})
}

// InvokeDynamic adds a CONSTANT_InvokeDynamic pointing at bootstrap method 0.
func (b *Builder) InvokeDynamic(name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	b.bsm = true
	return b.intern("indy:"+name+desc, 1, func(w *bytes.Buffer) {
		w.WriteByte(tagInvokeDynamic)
		writeU2(w, 0)
		writeU2(w, nt)
	})
}

// Bootstrap makes bootstrap method 0 an invokestatic handle on
// class.name desc.
func (b *Builder) Bootstrap(class, name, desc string) *Builder {
	ref := b.Methodref(class, name, desc)
	b.handle = b.intern("mh:"+strconv.Itoa(int(ref)), 1, func(w *bytes.Buffer) {
		w.WriteByte(tagMethodHandle)
		w.WriteByte(6) // REF_invokeStatic
		writeU2(w, ref)
	})
	return b
}

// MalformedBootstrap writes a BootstrapMethods attribute too short to hold
// its own count.
func (b *Builder) MalformedBootstrap() *Builder {
	b.brokenBSM = true
	return b
}

// Long adds a CONSTANT_Long, which occupies two slots.
func (b *Builder) Long(v int64) uint16 {
	return b.intern("j:"+strconv.FormatInt(v, 10), 2, func(w *bytes.Buffer) {
		w.WriteByte(tagLong)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		w.Write(buf[:])
	})
}

// Method adds a method. A nil code slice produces an abstract method with no
// Code attribute.
func (b *Builder) Method(flags uint16, name, desc string, code []byte) *Builder {
	var m bytes.Buffer
	writeU2(&m, flags)
	writeU2(&m, b.Utf8(name))
	writeU2(&m, b.Utf8(desc))
	if code == nil {
		writeU2(&m, 0)
	} else {
		writeU2(&m, 1)
		writeU2(&m, b.Utf8("Code"))
		writeU4(&m, uint32(12+len(code)))
		writeU2(&m, 8) // max_stack
		writeU2(&m, 8) // max_locals
		writeU4(&m, uint32(len(code)))
		m.Write(code)
		writeU2(&m, 0) // exception_table_length
		writeU2(&m, 0) // attributes_count
	}
	b.methods = append(b.methods, m.Bytes())
	return b
}

// Bytes serializes the class file.
func (b *Builder) Bytes() []byte {
	var bsmName uint16
	if b.bsm {
		bsmName = b.Utf8("BootstrapMethods")
	}

	var out bytes.Buffer
	writeU4(&out, 0xCAFEBABE)
	writeU2(&out, 0)  // minor
	writeU2(&out, 52) // major (Java 8)
	writeU2(&out, b.count)
	out.Write(b.pool.Bytes())
	writeU2(&out, b.flags)
	writeU2(&out, b.this)
	writeU2(&out, b.super)
	writeU2(&out, 0) // interfaces
	writeU2(&out, 0) // fields
	writeU2(&out, uint16(len(b.methods)))
	for _, m := range b.methods {
		out.Write(m)
	}
	switch {
	case b.bsm && b.brokenBSM:
		writeU2(&out, 1)
		writeU2(&out, bsmName)
		writeU4(&out, 1)
		out.WriteByte(0)
	case b.bsm:
		// one bootstrap method with no arguments
		writeU2(&out, 1)
		writeU2(&out, bsmName)
		writeU4(&out, 6)
		writeU2(&out, 1)
		writeU2(&out, b.handle)
		writeU2(&out, 0)
	default:
		writeU2(&out, 0)
	}
	return out.Bytes()
}

// Asm assembles a code array and tracks the current pc.
type Asm struct {
	buf []byte
}

// PC returns the offset the next instruction will have.
func (a *Asm) PC() int { return len(a.buf) }

// Op emits an opcode followed by raw operand bytes.
func (a *Asm) Op(op byte, operands ...byte) *Asm {
	a.buf = append(a.buf, op)
	a.buf = append(a.buf, operands...)
	return a
}

// OpU2 emits an opcode with a big-endian u2 operand.
func (a *Asm) OpU2(op byte, v uint16) *Asm {
	return a.Op(op, byte(v>>8), byte(v))
}

// Pad emits zero bytes until the pc is a multiple of four, as tableswitch
// and lookupswitch require after their opcode.
func (a *Asm) Pad() *Asm {
	for len(a.buf)%4 != 0 {
		a.buf = append(a.buf, 0)
	}
	return a
}

// I4 emits a raw big-endian int32.
func (a *Asm) I4(v int32) *Asm {
	a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(v))
	return a
}

// Bytes returns the assembled code.
func (a *Asm) Bytes() []byte { return a.buf }

// Archive zips the given class files, keyed by internal class name. A jmod
// archive gets the JM header and a classes/ prefix.
func Archive(classes map[string][]byte, jmod bool) []byte {
	names := make([]string, 0, len(classes))
	for n := range classes {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	prefix := ""
	if jmod {
		prefix = "classes/"
	}
	for _, n := range names {
		w, err := zw.Create(prefix + n + ".class")
		if err != nil {
			panic(err)
		}
		w.Write(classes[n])
	}
	if _, err := zw.Create("META-INF/MANIFEST.MF"); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	if !jmod {
		return buf.Bytes()
	}
	return append([]byte{'J', 'M', 1, 0}, buf.Bytes()...)
}

func writeU2(w *bytes.Buffer, v uint16) {
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v))
}

func writeU4(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

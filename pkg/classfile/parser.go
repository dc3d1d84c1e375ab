package classfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"slices"

	"github.com/pkg/errors"
)

const classMagic = 0xCAFEBABE

// reader reads big-endian class file items.
type reader struct {
	r   io.Reader
	buf [8]byte
}

func (r *reader) fill(n int) ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

func (r *reader) u1() (uint8, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u2() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u4() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u8() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// blob reads n bytes whose length came from the input, growing the buffer
// only as data actually arrives.
func (r *reader) blob(n uint32) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r.r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(in io.Reader) (*ClassFile, error) {
	r := &reader{r: in}
	cf := &ClassFile{}

	magic, err := r.u4()
	if err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if magic != classMagic {
		return nil, errors.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading minor version")
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading major version")
	}

	cpCount, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading constant pool count")
	}
	if cf.ConstantPool, err = parseConstantPool(r, cpCount); err != nil {
		return nil, errors.Wrap(err, "parsing constant pool")
	}

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading access flags")
	}
	if cf.ThisClass, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading this_class")
	}
	if cf.SuperClass, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading super_class")
	}

	interfacesCount, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading interfaces count")
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.u2(); err != nil {
			return nil, errors.Wrapf(err, "reading interface %d", i)
		}
	}

	fieldsCount, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading fields count")
	}
	cf.Fields = make([]FieldInfo, fieldsCount)
	for i := range cf.Fields {
		m, err := parseMember(r, cf.ConstantPool)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field %d", i)
		}
		cf.Fields[i] = FieldInfo(m)
	}

	methodsCount, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading methods count")
	}
	cf.Methods = make([]MethodInfo, methodsCount)
	for i := range cf.Methods {
		m, err := parseMember(r, cf.ConstantPool)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing method %d", i)
		}
		method := MethodInfo{
			AccessFlags: m.AccessFlags,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Attributes:  m.Attributes,
		}
		if attr, ok := findAttribute(m.Attributes, "Code"); ok {
			if method.Code, err = parseCodeAttribute(attr.Data); err != nil {
				return nil, errors.Wrapf(err, "parsing Code attribute of %s%s", m.Name, m.Descriptor)
			}
		}
		cf.Methods[i] = method
	}

	if cf.Attributes, err = parseAttributes(r, cf.ConstantPool); err != nil {
		return nil, errors.Wrap(err, "parsing class attributes")
	}

	return cf, nil
}

// member is the layout shared by field_info and method_info.
type member struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
}

func findAttribute(attrs []AttributeInfo, name string) (AttributeInfo, bool) {
	i := slices.IndexFunc(attrs, func(a AttributeInfo) bool { return a.Name == name })
	if i < 0 {
		return AttributeInfo{}, false
	}
	return attrs[i], true
}

func parseMember(r *reader, pool []ConstantPoolEntry) (member, error) {
	var m member
	var err error
	if m.AccessFlags, err = r.u2(); err != nil {
		return m, errors.Wrap(err, "reading access flags")
	}
	nameIndex, err := r.u2()
	if err != nil {
		return m, errors.Wrap(err, "reading name index")
	}
	descIndex, err := r.u2()
	if err != nil {
		return m, errors.Wrap(err, "reading descriptor index")
	}
	if m.Name, err = GetUtf8(pool, nameIndex); err != nil {
		return m, errors.Wrap(err, "resolving name")
	}
	if m.Descriptor, err = GetUtf8(pool, descIndex); err != nil {
		return m, errors.Wrap(err, "resolving descriptor")
	}
	if m.Attributes, err = parseAttributes(r, pool); err != nil {
		return m, errors.Wrapf(err, "parsing attributes of %s", m.Name)
	}
	return m, nil
}

func parseAttributes(r *reader, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading attributes count")
	}
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		nameIndex, err := r.u2()
		if err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d name index", i)
		}
		length, err := r.u4()
		if err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d length", i)
		}
		data, err := r.blob(length)
		if err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d data", i)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving attribute %d name", i)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	r := &reader{r: bytes.NewReader(data)}
	code := &CodeAttribute{}
	var err error
	if code.MaxStack, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading max_stack")
	}
	if code.MaxLocals, err = r.u2(); err != nil {
		return nil, errors.Wrap(err, "reading max_locals")
	}
	length, err := r.u4()
	if err != nil {
		return nil, errors.Wrap(err, "reading code_length")
	}
	if uint64(length) > uint64(len(data)) {
		return nil, errors.Errorf("code_length %d exceeds attribute size %d", length, len(data))
	}
	// The exception table and nested attributes that follow are not needed
	// to find call sites.
	if code.Code, err = r.bytes(int(length)); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes of code", length)
	}
	return code, nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	r := &reader{r: bytes.NewReader(data)}
	n, err := r.u2()
	if err != nil {
		return nil, errors.Wrap(err, "reading num_bootstrap_methods")
	}
	methods := make([]BootstrapMethod, n)
	for i := range methods {
		m := &methods[i]
		if m.MethodRef, err = r.u2(); err != nil {
			return nil, errors.Wrapf(err, "reading bootstrap method %d", i)
		}
		argc, err := r.u2()
		if err != nil {
			return nil, errors.Wrapf(err, "reading bootstrap method %d", i)
		}
		m.BootstrapArguments = make([]uint16, argc)
		for j := range m.BootstrapArguments {
			if m.BootstrapArguments[j], err = r.u2(); err != nil {
				return nil, errors.Wrapf(err, "reading argument %d of bootstrap method %d", j, i)
			}
		}
	}
	return methods, nil
}

// BootstrapMethods parses the class's BootstrapMethods attribute. It is read
// on demand so a malformed table does not reject the class. Classes without
// the attribute return nil.
func (cf *ClassFile) BootstrapMethods() ([]BootstrapMethod, error) {
	attr, ok := findAttribute(cf.Attributes, "BootstrapMethods")
	if !ok {
		return nil, nil
	}
	methods, err := parseBootstrapMethods(attr.Data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing BootstrapMethods")
	}
	return methods, nil
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	i := slices.IndexFunc(cf.Methods, func(m MethodInfo) bool {
		return m.Name == name && m.Descriptor == descriptor
	})
	if i < 0 {
		return nil
	}
	return &cf.Methods[i]
}

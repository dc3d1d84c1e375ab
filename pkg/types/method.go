package types

import (
	"strings"

	"github.com/pkg/errors"
)

// MethodReference names a method the way an invoke instruction does: the
// owning class (internal form, "java/lang/Object"), the method name and the
// method descriptor. It says nothing about which implementation runs.
type MethodReference struct {
	Class      string
	Name       string
	Descriptor string
}

// NewMethodReference returns a reference to class.name descriptor.
func NewMethodReference(class, name, descriptor string) *MethodReference {
	return &MethodReference{Class: class, Name: name, Descriptor: descriptor}
}

// String returns "Class.name(desc)ret", e.g. "Foo.bar(I)V".
func (m *MethodReference) String() string {
	return m.Class + "." + m.Name + m.Descriptor
}

// IsInitializer reports whether the reference names a constructor.
func (m *MethodReference) IsInitializer() bool {
	return m.Name == "<init>"
}

// TypeName is a field type decoded from a descriptor.
type TypeName struct {
	// Primitive is set for primitive element types, nil for classes.
	Primitive *PrimitiveType
	// Class is the internal class name for reference element types.
	Class string
	// Dims is the number of array dimensions.
	Dims int
}

// String renders the type in source form: "int", "java.lang.String[]".
func (t TypeName) String() string {
	var b strings.Builder
	if t.Primitive != nil {
		b.WriteString(t.Primitive.LongName())
	} else {
		b.WriteString(strings.ReplaceAll(t.Class, "/", "."))
	}
	for i := 0; i < t.Dims; i++ {
		b.WriteString("[]")
	}
	return b.String()
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []TypeName
	Return TypeName
}

// ParamCount returns the number of declared parameters (receiver excluded).
func (d *MethodDescriptor) ParamCount() int { return len(d.Params) }

// ReturnsVoid reports whether the descriptor ends in ")V".
func (d *MethodDescriptor) ReturnsVoid() bool {
	return d.Return.Primitive == voidType && d.Return.Dims == 0
}

// Signature renders "ret(p1, p2)" in source form.
func (d *MethodDescriptor) Signature() string {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.String()
	}
	return d.Return.String() + "(" + strings.Join(params, ", ") + ")"
}

// ParseMethodDescriptor parses a descriptor such as "(I[Ljava/lang/String;)V"
// using the shared primitive table.
func ParseMethodDescriptor(descriptor string) (*MethodDescriptor, error) {
	return Primitives().ParseMethodDescriptor(descriptor)
}

// ParseMethodDescriptor parses a method descriptor, resolving primitive
// letters through t.
func (t *PrimitiveTable) ParseMethodDescriptor(descriptor string) (*MethodDescriptor, error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, errors.Errorf("invalid method descriptor: %s", descriptor)
	}
	end := strings.Index(descriptor, ")")
	if end == -1 {
		return nil, errors.Errorf("invalid method descriptor: %s", descriptor)
	}

	d := &MethodDescriptor{}
	params := descriptor[1:end]
	for i := 0; i < len(params); {
		tn, n, err := t.parseField(params[i:])
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %d of %s", len(d.Params), descriptor)
		}
		if tn.Primitive == voidType {
			return nil, errors.Errorf("void parameter in %s", descriptor)
		}
		d.Params = append(d.Params, tn)
		i += n
	}

	ret := descriptor[end+1:]
	tn, n, err := t.parseField(ret)
	if err != nil {
		return nil, errors.Wrapf(err, "return type of %s", descriptor)
	}
	if n != len(ret) {
		return nil, errors.Errorf("trailing characters after return type in %s", descriptor)
	}
	d.Return = tn
	return d, nil
}

// parseField decodes one field type at the start of s and returns how many
// bytes it used.
func (t *PrimitiveTable) parseField(s string) (TypeName, int, error) {
	var tn TypeName
	i := 0
	for i < len(s) && s[i] == '[' {
		tn.Dims++
		i++
	}
	if i >= len(s) {
		return TypeName{}, 0, errors.New("unexpected end of descriptor")
	}
	switch c := s[i]; c {
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi <= 1 {
			return TypeName{}, 0, errors.Errorf("unterminated class name in %q", s)
		}
		tn.Class = s[i+1 : i+semi]
		return tn, i + semi + 1, nil
	default:
		p, ok := t.LookupShort(string(c))
		if !ok {
			return TypeName{}, 0, errors.Errorf("invalid type descriptor char '%c'", c)
		}
		if p == voidType && tn.Dims > 0 {
			return TypeName{}, 0, errors.New("array of void")
		}
		tn.Primitive = p
		return tn, i + 1, nil
	}
}

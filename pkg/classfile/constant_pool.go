package classfile

import (
	"github.com/pkg/errors"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// parseConstantPool reads constant_pool_count-1 entries.
// The returned slice is 1-indexed: index 0 is nil, as is the slot after
// every Long and Double.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, errors.Wrapf(err, "reading constant pool tag at index %d", i)
		}
		entry, err := parseConstant(r, tag)
		if err != nil {
			return nil, errors.Wrapf(err, "reading constant pool entry %d (tag=%d)", i, tag)
		}
		pool[i] = entry
		if n, ok := entry.(*ConstantNumber); ok && n.Wide() {
			i++
		}
	}

	return pool, nil
}

func parseConstant(r *reader, tag uint8) (ConstantPoolEntry, error) {
	switch tag {
	case TagUtf8:
		length, err := r.u2()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		return &ConstantUtf8{Value: string(b)}, nil

	case TagInteger, TagFloat:
		v, err := r.u4()
		return &ConstantNumber{Kind: tag, Bits: uint64(v)}, err

	case TagLong, TagDouble:
		v, err := r.u8()
		return &ConstantNumber{Kind: tag, Bits: v}, err

	case TagClass:
		idx, err := r.u2()
		return &ConstantClass{NameIndex: idx}, err

	case TagString, TagMethodType, TagModule, TagPackage:
		idx, err := r.u2()
		return &ConstantSymbol{Kind: tag, Index: idx}, err

	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		classIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		natIndex, err := r.u2()
		return &ConstantMemberref{Kind: tag, ClassIndex: classIndex, NameAndTypeIndex: natIndex}, err

	case TagNameAndType:
		nameIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		descIndex, err := r.u2()
		return &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}, err

	case TagMethodHandle:
		kind, err := r.u1()
		if err != nil {
			return nil, err
		}
		idx, err := r.u2()
		return &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: idx}, err

	case TagDynamic, TagInvokeDynamic:
		bsm, err := r.u2()
		if err != nil {
			return nil, err
		}
		natIndex, err := r.u2()
		return &ConstantDynamic{Kind: tag, BootstrapMethodAttrIndex: bsm, NameAndTypeIndex: natIndex}, err
	}

	return nil, errors.Errorf("unknown constant pool tag %d", tag)
}

func entryAt(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, entry.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	entry, err := entryAt(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := entry.(*ConstantClass)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Class (tag=%d)", classIndex, entry.Tag())
	}
	return GetUtf8(pool, class.NameIndex)
}

// GetNameAndType returns the name and descriptor of a CONSTANT_NameAndType.
func GetNameAndType(pool []ConstantPoolEntry, index uint16) (name, descriptor string, err error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := entry.(*ConstantNameAndType)
	if !ok {
		return "", "", errors.Errorf("constant pool index %d is not NameAndType (tag=%d)", index, entry.Tag())
	}
	if name, err = GetUtf8(pool, nat.NameIndex); err != nil {
		return "", "", errors.Wrap(err, "resolving name")
	}
	if descriptor, err = GetUtf8(pool, nat.DescriptorIndex); err != nil {
		return "", "", errors.Wrap(err, "resolving descriptor")
	}
	return name, descriptor, nil
}

// MemberRefInfo holds a resolved field or method reference.
type MemberRefInfo struct {
	Kind       uint8
	ClassName  string
	Name       string
	Descriptor string
}

// ResolveMemberref resolves a Fieldref, Methodref or InterfaceMethodref entry.
// kinds restricts which tags are accepted; empty means any of the three.
func ResolveMemberref(pool []ConstantPoolEntry, index uint16, kinds ...uint8) (*MemberRefInfo, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantMemberref)
	if !ok || !tagAllowed(ref.Kind, kinds) {
		return nil, errors.Errorf("constant pool index %d is not a %s (tag=%d)", index, describeTags(kinds), entry.Tag())
	}

	className, err := GetClassName(pool, ref.ClassIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving class of member ref %d", index)
	}
	name, descriptor, err := GetNameAndType(pool, ref.NameAndTypeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving member ref %d", index)
	}

	return &MemberRefInfo{
		Kind:       ref.Kind,
		ClassName:  className,
		Name:       name,
		Descriptor: descriptor,
	}, nil
}

func invokeDynamicAt(pool []ConstantPoolEntry, index uint16) (*ConstantDynamic, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	dyn, ok := entry.(*ConstantDynamic)
	if !ok || dyn.Kind != TagInvokeDynamic {
		return nil, errors.Errorf("constant pool index %d is not InvokeDynamic (tag=%d)", index, entry.Tag())
	}
	return dyn, nil
}

// ResolveInvokeDynamic returns the call site name and descriptor of a
// CONSTANT_InvokeDynamic entry.
func ResolveInvokeDynamic(pool []ConstantPoolEntry, index uint16) (name, descriptor string, err error) {
	dyn, err := invokeDynamicAt(pool, index)
	if err != nil {
		return "", "", err
	}
	return GetNameAndType(pool, dyn.NameAndTypeIndex)
}

// ResolveBootstrap returns the method behind the bootstrap handle of a
// CONSTANT_InvokeDynamic entry, e.g. LambdaMetafactory.metafactory.
func ResolveBootstrap(pool []ConstantPoolEntry, methods []BootstrapMethod, index uint16) (*MemberRefInfo, error) {
	dyn, err := invokeDynamicAt(pool, index)
	if err != nil {
		return nil, err
	}
	i := int(dyn.BootstrapMethodAttrIndex)
	if i >= len(methods) {
		return nil, errors.Errorf("bootstrap method %d out of range (%d entries)", i, len(methods))
	}
	entry, err := entryAt(pool, methods[i].MethodRef)
	if err != nil {
		return nil, errors.Wrapf(err, "bootstrap method %d", i)
	}
	handle, ok := entry.(*ConstantMethodHandle)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not MethodHandle (tag=%d)", methods[i].MethodRef, entry.Tag())
	}
	return ResolveMemberref(pool, handle.ReferenceIndex, TagMethodref, TagInterfaceMethodref)
}

func tagAllowed(tag uint8, kinds []uint8) bool {
	if len(kinds) == 0 {
		return tag == TagFieldref || tag == TagMethodref || tag == TagInterfaceMethodref
	}
	for _, k := range kinds {
		if k == tag {
			return true
		}
	}
	return false
}

func describeTags(kinds []uint8) string {
	if len(kinds) != 1 {
		return "member ref"
	}
	switch kinds[0] {
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	}
	return "member ref"
}

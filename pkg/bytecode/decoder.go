package bytecode

import (
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/daimatz/callsites/pkg/callsite"
	"github.com/daimatz/callsites/pkg/classfile"
	"github.com/daimatz/callsites/pkg/types"
)

// DispatchOf maps an invoke opcode to its dispatch kind. invokedynamic and
// every non-invoke opcode report false.
func DispatchOf(op byte) (callsite.Dispatch, bool) {
	switch op {
	case OpInvokestatic:
		return callsite.Static, true
	case OpInvokespecial:
		return callsite.Special, true
	case OpInvokevirtual:
		return callsite.Virtual, true
	case OpInvokeinterface:
		return callsite.Interface, true
	}
	return 0, false
}

// targetTags lists the constant pool entries each invoke may reference.
// invokestatic and invokespecial accept interface methods since class file
// version 52.
func targetTags(kind callsite.Dispatch) []uint8 {
	switch kind {
	case callsite.Virtual:
		return []uint8{classfile.TagMethodref}
	case callsite.Interface:
		return []uint8{classfile.TagInterfaceMethodref}
	}
	return []uint8{classfile.TagMethodref, classfile.TagInterfaceMethodref}
}

// Method holds the call sites found in one method body.
type Method struct {
	Ref   *types.MethodReference
	Sites []callsite.Site
	// Dynamic counts invokedynamic instructions, which have no Site.
	Dynamic int
}

// Class is the decoded view of one class file.
type Class struct {
	Name    string
	Methods []Method
}

// Decoder extracts call sites from class files. It holds no per-class state
// and is safe for concurrent use.
type Decoder struct {
	logger log.Logger
}

// NewDecoder returns a Decoder. A nil logger discards output.
func NewDecoder(logger log.Logger) *Decoder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Decoder{logger: logger}
}

// Decode returns the call sites of every method of cf that has code.
// Abstract and native methods are skipped.
func (d *Decoder) Decode(cf *classfile.ClassFile) (*Class, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(err, "resolving class name")
	}
	cd := newClassDecoder(d.logger, cf, name)
	out := &Class{Name: name}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if !m.HasCode() {
			continue
		}
		decoded, err := cd.method(m)
		if err != nil {
			return nil, err
		}
		out.Methods = append(out.Methods, decoded)
	}
	return out, nil
}

// CallSites returns the call sites of a single method of cf.
func (d *Decoder) CallSites(cf *classfile.ClassFile, m *classfile.MethodInfo) ([]callsite.Site, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(err, "resolving class name")
	}
	if !m.HasCode() {
		return nil, nil
	}
	decoded, err := newClassDecoder(d.logger, cf, name).method(m)
	if err != nil {
		return nil, err
	}
	return decoded.Sites, nil
}

// classDecoder resolves each constant pool method ref once, so every site
// in a class naming the same entry shares one *types.MethodReference.
type classDecoder struct {
	logger  log.Logger
	cf      *classfile.ClassFile
	name    string
	targets map[uint16]resolved

	// BootstrapMethods, read on the first invokedynamic
	bootstraps    []classfile.BootstrapMethod
	bootstrapsErr error
	bootstrapsSet bool
}

type resolved struct {
	ref *types.MethodReference
	tag uint8
}

func newClassDecoder(logger log.Logger, cf *classfile.ClassFile, name string) *classDecoder {
	return &classDecoder{
		logger:  log.With(logger, "class", name),
		cf:      cf,
		name:    name,
		targets: make(map[uint16]resolved),
	}
}

func (cd *classDecoder) method(m *classfile.MethodInfo) (Method, error) {
	out := Method{Ref: types.NewMethodReference(cd.name, m.Name, m.Descriptor)}

	err := Walk(m.Code.Code, func(in Instruction) error {
		if in.Op == OpInvokedynamic {
			out.Dynamic++
			cd.logDynamic(m, in)
			return nil
		}
		kind, ok := DispatchOf(in.Op)
		if !ok {
			return nil
		}
		target, err := cd.target(in.U2(0), kind)
		if err != nil {
			return errors.Wrapf(err, "%s at pc %d", in.Mnemonic(), in.PC)
		}
		out.Sites = append(out.Sites, callsite.Make(in.PC, target, kind))
		return nil
	})
	if err != nil {
		return Method{}, errors.Wrapf(err, "decoding %s", out.Ref)
	}
	return out, nil
}

// logDynamic reports a skipped invokedynamic with its bootstrap method. A
// broken constant pool entry or BootstrapMethods table only loses detail.
func (cd *classDecoder) logDynamic(m *classfile.MethodInfo, in Instruction) {
	index := in.U2(0)
	kv := []interface{}{"msg", "skipping invokedynamic", "method", m.Name + m.Descriptor, "pc", in.PC}
	if name, desc, err := classfile.ResolveInvokeDynamic(cd.cf.ConstantPool, index); err == nil {
		kv = append(kv, "name", name+desc)
	}
	if !cd.bootstrapsSet {
		cd.bootstraps, cd.bootstrapsErr = cd.cf.BootstrapMethods()
		cd.bootstrapsSet = true
	}
	err := cd.bootstrapsErr
	if err == nil {
		var ref *classfile.MemberRefInfo
		if ref, err = classfile.ResolveBootstrap(cd.cf.ConstantPool, cd.bootstraps, index); err == nil {
			kv = append(kv, "bootstrap", ref.ClassName+"."+ref.Name)
		}
	}
	if err != nil {
		kv = append(kv, "bootstrap_err", err)
	}
	level.Debug(cd.logger).Log(kv...)
}

func (cd *classDecoder) target(index uint16, kind callsite.Dispatch) (*types.MethodReference, error) {
	tags := targetTags(kind)
	if r, ok := cd.targets[index]; ok && slices.Contains(tags, r.tag) {
		return r.ref, nil
	}
	ref, err := classfile.ResolveMemberref(cd.cf.ConstantPool, index, tags...)
	if err != nil {
		return nil, err
	}
	t := types.NewMethodReference(ref.ClassName, ref.Name, ref.Descriptor)
	cd.targets[index] = resolved{ref: t, tag: ref.Kind}
	return t, nil
}

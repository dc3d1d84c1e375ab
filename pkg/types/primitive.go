package types

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PrimitiveType is a built-in value type with a source-level name ("int")
// and a runtime descriptor name ("I").
type PrimitiveType struct {
	longName  string
	shortName string
}

// Name returns the descriptor form, e.g. "I".
func (p *PrimitiveType) Name() string { return p.shortName }

// LongName returns the source-level form, e.g. "int".
func (p *PrimitiveType) LongName() string { return p.longName }

// Supertypes is always empty: primitives have no supertypes.
func (p *PrimitiveType) Supertypes() []*PrimitiveType { return []*PrimitiveType{} }

func (p *PrimitiveType) String() string { return p.longName }

// voidType is shared by every table. Descriptor parsing relies on pointer
// identity with it.
var voidType = &PrimitiveType{longName: "void", shortName: "V"}

// VoidType returns the "no value" type. Every table returns this pointer for
// "void".
func VoidType() *PrimitiveType { return voidType }

// PrimitiveTable maps primitive names in both directions. It is immutable once
// NewPrimitiveTable returns and safe for concurrent readers.
type PrimitiveTable struct {
	byLong  map[string]*PrimitiveType
	byShort map[string]*PrimitiveType
}

// NewPrimitiveTable builds the closed set of JVM primitive types.
func NewPrimitiveTable() *PrimitiveTable {
	all := []*PrimitiveType{
		{longName: "int", shortName: "I"},
		{longName: "long", shortName: "J"},
		{longName: "short", shortName: "S"},
		{longName: "char", shortName: "C"},
		{longName: "byte", shortName: "B"},
		{longName: "boolean", shortName: "Z"},
		{longName: "float", shortName: "F"},
		{longName: "double", shortName: "D"},
		voidType,
	}
	return &PrimitiveTable{
		byLong:  lo.KeyBy(all, (*PrimitiveType).LongName),
		byShort: lo.KeyBy(all, (*PrimitiveType).Name),
	}
}

// Lookup returns the primitive type with the given source-level name. Names
// are matched exactly; "Int" and "integer" are unknown.
func (t *PrimitiveTable) Lookup(longName string) (*PrimitiveType, bool) {
	p, ok := t.byLong[longName]
	return p, ok
}

// ShortNameOf returns the descriptor form of a source-level primitive name.
// It returns "", false for anything not in the table.
func (t *PrimitiveTable) ShortNameOf(longName string) (string, bool) {
	p, ok := t.byLong[longName]
	if !ok {
		return "", false
	}
	return p.shortName, true
}

// LookupShort is the reverse of Lookup: "I" -> int.
func (t *PrimitiveTable) LookupShort(shortName string) (*PrimitiveType, bool) {
	p, ok := t.byShort[shortName]
	return p, ok
}

// LongNames returns every known source-level name, sorted.
func (t *PrimitiveTable) LongNames() []string {
	names := lo.Keys(t.byLong)
	slices.Sort(names)
	return names
}

var (
	primitivesOnce sync.Once
	primitives     *PrimitiveTable
)

// Primitives returns the process-wide table. It is built on first use; the
// sync.Once makes the build visible to every caller before they read it.
func Primitives() *PrimitiveTable {
	primitivesOnce.Do(func() {
		primitives = NewPrimitiveTable()
	})
	return primitives
}

// Lookup is Primitives().Lookup.
func Lookup(longName string) (*PrimitiveType, bool) {
	return Primitives().Lookup(longName)
}

// ShortNameOf is Primitives().ShortNameOf.
func ShortNameOf(longName string) (string, bool) {
	return Primitives().ShortNameOf(longName)
}

package scan

import (
	"cmp"
	"slices"

	"github.com/daimatz/callsites/pkg/callsite"
	"github.com/daimatz/callsites/pkg/types"
)

// SiteKey names a call site across the whole scan. Offsets alone collide
// between methods.
type SiteKey = callsite.Key[types.MethodReference]

// Index maps call sites by routine and offset, and callers by declared
// target.
type Index struct {
	sites   map[SiteKey]callsite.Site
	callers map[types.MethodReference][]SiteKey
}

// Index builds an Index over r.
func (r *Result) Index() *Index {
	x := &Index{
		sites:   make(map[SiteKey]callsite.Site),
		callers: make(map[types.MethodReference][]SiteKey),
	}
	for _, rt := range r.Routines {
		for _, s := range rt.Sites {
			k := callsite.KeyOf(*rt.Method, s)
			x.sites[k] = s
			target := *s.DeclaredTarget()
			x.callers[target] = append(x.callers[target], k)
		}
	}
	return x
}

// Len returns the number of indexed sites.
func (x *Index) Len() int { return len(x.sites) }

// Lookup finds the site at pc in routine.
func (x *Index) Lookup(routine types.MethodReference, pc int) (callsite.Site, bool) {
	s, ok := x.sites[SiteKey{Routine: routine, PC: callsite.ProgramCounter(pc)}]
	return s, ok
}

// Callers returns the sites whose declared target is target, ordered by
// routine and offset.
func (x *Index) Callers(target types.MethodReference) []SiteKey {
	keys := slices.Clone(x.callers[target])
	slices.SortFunc(keys, func(a, b SiteKey) int {
		return cmp.Or(
			cmp.Compare(a.Routine.String(), b.Routine.String()),
			cmp.Compare(a.PC, b.PC),
		)
	})
	return keys
}

// Package scan decodes every class of a source concurrently and collects
// the call sites per routine.
package scan

import (
	"context"
	"runtime"
	"slices"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/callsites/pkg/bytecode"
	"github.com/daimatz/callsites/pkg/callsite"
	"github.com/daimatz/callsites/pkg/classfile"
	"github.com/daimatz/callsites/pkg/loader"
	"github.com/daimatz/callsites/pkg/types"
)

// Routine is one method body and the call sites it contains.
type Routine struct {
	Class  string
	Method *types.MethodReference
	Sites  []callsite.Site
	// Dynamic counts skipped invokedynamic instructions.
	Dynamic int
}

// Failure records a class that could not be decoded.
type Failure struct {
	Class string
	Err   error
}

// Result holds the routines of a scan ordered by class, then by method
// declaration order.
type Result struct {
	Routines []Routine
	Classes  int
	Failures []Failure
}

// Scanner decodes classes with a bounded worker pool.
type Scanner struct {
	// Workers bounds concurrent decoding. Zero means GOMAXPROCS.
	Workers int
	// Kinds keeps only sites of these dispatch kinds. Empty keeps all.
	Kinds []callsite.Dispatch
	// Strict makes the first decoding failure fatal.
	Strict bool
	Logger log.Logger
}

type classSlot struct {
	name  string
	class *bytecode.Class
	err   error
}

// Scan walks src and decodes every class it yields.
func (s *Scanner) Scan(ctx context.Context, src loader.Source) (*Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	for _, k := range s.Kinds {
		if !k.Valid() {
			return nil, errors.Errorf("invalid dispatch kind %d", uint8(k))
		}
	}
	dec := bytecode.NewDecoder(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	// Each worker owns the slot it was handed; the slice itself is only
	// appended to by the walking goroutine.
	var slots []*classSlot
	walkErr := src.Walk(gctx, func(name string, cf *classfile.ClassFile, err error) error {
		slot := &classSlot{name: name}
		slots = append(slots, slot)
		if err != nil {
			slot.err = err
			return s.fail(logger, slot)
		}
		g.Go(func() error {
			slot.class, slot.err = dec.Decode(cf)
			if slot.err == nil {
				level.Debug(logger).Log("msg", "decoded class", "class", name, "methods", len(slot.class.Methods))
				return nil
			}
			return s.fail(logger, slot)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, errors.Wrapf(walkErr, "walking %s", src)
	}

	slices.SortStableFunc(slots, func(a, b *classSlot) int { return strings.Compare(a.name, b.name) })

	res := &Result{}
	for _, slot := range slots {
		if slot.err != nil {
			res.Failures = append(res.Failures, Failure{Class: slot.name, Err: slot.err})
			continue
		}
		res.Classes++
		for _, m := range slot.class.Methods {
			res.Routines = append(res.Routines, Routine{
				Class:   slot.class.Name,
				Method:  m.Ref,
				Sites:   s.filter(m.Sites),
				Dynamic: m.Dynamic,
			})
		}
	}
	level.Info(logger).Log("msg", "scan finished", "source", src, "classes", res.Classes, "routines", len(res.Routines), "failed", len(res.Failures))
	return res, nil
}

// fail records a class that could not be read or decoded. Only Strict turns
// it into an error.
func (s *Scanner) fail(logger log.Logger, slot *classSlot) error {
	if s.Strict {
		return errors.Wrapf(slot.err, "class %s", slot.name)
	}
	level.Warn(logger).Log("msg", "skipping class", "class", slot.name, "err", slot.err)
	return nil
}

func (s *Scanner) filter(sites []callsite.Site) []callsite.Site {
	if len(s.Kinds) == 0 {
		return sites
	}
	return lo.Filter(sites, func(site callsite.Site, _ int) bool {
		return lo.Contains(s.Kinds, site.Dispatch())
	})
}

// Sites returns every call site of the result in order.
func (r *Result) Sites() []callsite.Site {
	return lo.FlatMap(r.Routines, func(rt Routine, _ int) []callsite.Site { return rt.Sites })
}

// Summary aggregates a scan. Fixed sites have one possible callee, Dispatch
// sites depend on the receiver type. Initializers counts calls to <init>.
type Summary struct {
	Classes      int            `json:"classes" yaml:"classes"`
	Methods      int            `json:"methods" yaml:"methods"`
	Sites        int            `json:"sites" yaml:"sites"`
	ByKind       map[string]int `json:"by_kind" yaml:"by_kind"`
	Fixed        int            `json:"fixed" yaml:"fixed"`
	Dispatch     int            `json:"dispatch" yaml:"dispatch"`
	Initializers int            `json:"initializer_calls" yaml:"initializer_calls"`
	Targets      int            `json:"distinct_targets" yaml:"distinct_targets"`
	Dynamic      int            `json:"invokedynamic" yaml:"invokedynamic"`
	Failed       int            `json:"failed" yaml:"failed"`
}

// Summary counts the sites of r.
func (r *Result) Summary() Summary {
	sites := r.Sites()
	targets := lo.UniqBy(sites, func(s callsite.Site) types.MethodReference { return *s.DeclaredTarget() })
	byKind := lo.CountValuesBy(sites, func(s callsite.Site) string { return s.Dispatch().String() })
	for _, k := range callsite.Dispatches() {
		if _, ok := byKind[k.String()]; !ok {
			byKind[k.String()] = 0
		}
	}
	inits := lo.CountBy(sites, func(s callsite.Site) bool { return s.DeclaredTarget().IsInitializer() })
	return Summary{
		Classes:      r.Classes,
		Methods:      len(r.Routines),
		Sites:        len(sites),
		ByKind:       byKind,
		Fixed:        lo.CountBy(sites, callsite.Site.IsFixed),
		Dispatch:     lo.CountBy(sites, callsite.Site.IsDispatch),
		Initializers: inits,
		Targets:      len(targets),
		Dynamic:      lo.SumBy(r.Routines, func(rt Routine) int { return rt.Dynamic }),
		Failed:       len(r.Failures),
	}
}

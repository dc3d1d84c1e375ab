package scan

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daimatz/callsites/internal/classgen"
	"github.com/daimatz/callsites/pkg/bytecode"
	"github.com/daimatz/callsites/pkg/callsite"
	"github.com/daimatz/callsites/pkg/classfile"
	"github.com/daimatz/callsites/pkg/loader"
	"github.com/daimatz/callsites/pkg/types"
)

// memSource serves generated classes through an in-memory jar.
type memSource map[string][]byte

func (m memSource) Walk(ctx context.Context, fn loader.WalkFunc) error {
	return loader.WalkArchive(ctx, classgen.Archive(m, false), false, fn)
}

func (m memSource) String() string { return "mem" }

// mainClass:
//
//	class Main { Main() { super(); } void run(List l) { Util.help(); toString(); l.size(); } }
func mainClass() []byte {
	b := classgen.New("app/Main", "java/lang/Object")
	objInit := b.Methodref("java/lang/Object", "<init>", "()V")
	help := b.Methodref("app/Util", "help", "()V")
	toString := b.Methodref("java/lang/Object", "toString", "()Ljava/lang/String;")
	size := b.InterfaceMethodref("java/util/List", "size", "()I")

	ctor := (&classgen.Asm{}).Op(bytecode.OpAload0).OpU2(bytecode.OpInvokespecial, objInit).Op(bytecode.OpReturn)
	b.Method(0, "<init>", "()V", ctor.Bytes())

	run := (&classgen.Asm{}).
		OpU2(bytecode.OpInvokestatic, help).
		Op(bytecode.OpAload0).
		OpU2(bytecode.OpInvokevirtual, toString).
		Op(bytecode.OpPop).
		Op(bytecode.OpAload1).
		Op(bytecode.OpInvokeinterface, byte(size>>8), byte(size), 1, 0).
		Op(bytecode.OpPop).
		Op(bytecode.OpReturn)
	b.Method(0, "run", "(Ljava/util/List;)V", run.Bytes())
	return b.Bytes()
}

// utilClass:
//
//	class Util { static void help() { log(); log(); Runnable r = () -> {}; } static void log() {} }
func utilClass() []byte {
	b := classgen.New("app/Util", "java/lang/Object")
	logRef := b.Methodref("app/Util", "log", "()V")
	indy := b.InvokeDynamic("run", "()Ljava/lang/Runnable;")

	help := (&classgen.Asm{}).
		OpU2(bytecode.OpInvokestatic, logRef).
		OpU2(bytecode.OpInvokestatic, logRef).
		Op(bytecode.OpInvokedynamic, byte(indy>>8), byte(indy), 0, 0).
		Op(bytecode.OpPop).
		Op(bytecode.OpReturn)
	b.Method(classfile.AccStatic, "help", "()V", help.Bytes())
	b.Method(classfile.AccStatic, "log", "()V", []byte{bytecode.OpReturn})
	return b.Bytes()
}

// badClass calls an interface method with invokevirtual.
func badClass() []byte {
	b := classgen.New("app/Bad", "java/lang/Object")
	iref := b.InterfaceMethodref("java/util/List", "size", "()I")
	code := (&classgen.Asm{}).Op(bytecode.OpAload0).OpU2(bytecode.OpInvokevirtual, iref).Op(bytecode.OpReturn)
	b.Method(0, "m", "()V", code.Bytes())
	return b.Bytes()
}

func testSource(withBad bool) memSource {
	src := memSource{"app/Main": mainClass(), "app/Util": utilClass()}
	if withBad {
		src["app/Bad"] = badClass()
	}
	return src
}

func TestScan(t *testing.T) {
	defer goleak.VerifyNone(t)

	res, err := (&Scanner{Workers: 4, Logger: log.NewNopLogger()}).Scan(context.Background(), testSource(false))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Classes)
	assert.Empty(t, res.Failures)

	var names []string
	for _, rt := range res.Routines {
		names = append(names, rt.Method.String())
	}
	assert.Equal(t, []string{
		"app/Main.<init>()V",
		"app/Main.run(Ljava/util/List;)V",
		"app/Util.help()V",
		"app/Util.log()V",
	}, names)

	run := res.Routines[1]
	assert.Equal(t, "app/Main", run.Class)
	require.Len(t, run.Sites, 3)
	assert.Equal(t, "invokestatic app/Util.help()V@0", run.Sites[0].String())
	assert.Equal(t, "invokevirtual java/lang/Object.toString()Ljava/lang/String;@4", run.Sites[1].String())
	assert.Equal(t, "invokeinterface java/util/List.size()I@9", run.Sites[2].String())

	assert.Equal(t, 1, res.Routines[2].Dynamic)
	assert.Empty(t, res.Routines[3].Sites)
}

func TestScanWorkerCountDoesNotChangeResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	var results []*Result
	for _, workers := range []int{0, 1, 8} {
		res, err := (&Scanner{Workers: workers}).Scan(context.Background(), testSource(true))
		require.NoError(t, err)
		results = append(results, res)
	}
	for _, res := range results[1:] {
		assert.Equal(t, results[0].Summary(), res.Summary())
		assert.Equal(t, len(results[0].Routines), len(res.Routines))
		for i := range res.Routines {
			assert.Equal(t, results[0].Routines[i].Method, res.Routines[i].Method)
		}
	}
}

func TestScanFailures(t *testing.T) {
	t.Run("non-strict skips broken classes", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		res, err := (&Scanner{Workers: 2}).Scan(context.Background(), testSource(true))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Classes)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "app/Bad", res.Failures[0].Class)
		assert.ErrorContains(t, res.Failures[0].Err, "invokevirtual at pc 1")
	})

	t.Run("strict fails the scan", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		_, err := (&Scanner{Workers: 2, Strict: true}).Scan(context.Background(), testSource(true))
		assert.ErrorContains(t, err, "class app/Bad")
	})

	t.Run("unparsable class is a failure", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		src := memSource{
			"app/Main":   mainClass(),
			"app/Broken": {0xCA, 0xFE, 0xBA, 0xBE, 0, 0},
		}
		res, err := (&Scanner{Workers: 2}).Scan(context.Background(), src)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Classes)
		require.Len(t, res.Routines, 2)
		assert.Equal(t, "app/Main", res.Routines[0].Class)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "app/Broken", res.Failures[0].Class)
		assert.ErrorContains(t, res.Failures[0].Err, "reading major version")
		assert.Equal(t, 1, res.Summary().Failed)

		_, err = (&Scanner{Workers: 2, Strict: true}).Scan(context.Background(), src)
		assert.ErrorContains(t, err, "class app/Broken")
	})

	t.Run("malformed BootstrapMethods still decodes", func(t *testing.T) {
		b := classgen.New("app/Lambda", "java/lang/Object").MalformedBootstrap()
		indy := b.InvokeDynamic("run", "()Ljava/lang/Runnable;")
		code := (&classgen.Asm{}).Op(bytecode.OpInvokedynamic, byte(indy>>8), byte(indy), 0, 0).Op(bytecode.OpPop).Op(bytecode.OpReturn)
		b.Method(classfile.AccStatic, "make", "()V", code.Bytes())

		res, err := (&Scanner{Strict: true}).Scan(context.Background(), memSource{"app/Lambda": b.Bytes()})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Classes)
		require.Len(t, res.Routines, 1)
		assert.Equal(t, 1, res.Routines[0].Dynamic)
	})

	t.Run("canceled context", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := (&Scanner{}).Scan(ctx, testSource(false))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid kind filter", func(t *testing.T) {
		_, err := (&Scanner{Kinds: []callsite.Dispatch{0}}).Scan(context.Background(), testSource(false))
		assert.ErrorContains(t, err, "invalid dispatch kind 0")
	})
}

func TestScanKindFilter(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &Scanner{Kinds: []callsite.Dispatch{callsite.Virtual, callsite.Interface}}
	res, err := s.Scan(context.Background(), testSource(false))
	require.NoError(t, err)

	sites := res.Sites()
	require.Len(t, sites, 2)
	for _, site := range sites {
		assert.True(t, site.IsDispatch(), site.String())
	}
	// ルーチン自体はフィルタで消えない
	assert.Len(t, res.Routines, 4)
}

func TestSummary(t *testing.T) {
	res, err := (&Scanner{}).Scan(context.Background(), testSource(true))
	require.NoError(t, err)

	assert.Equal(t, Summary{
		Classes: 2,
		Methods: 4,
		Sites:   6,
		ByKind: map[string]int{
			"static":    3,
			"special":   1,
			"virtual":   1,
			"interface": 1,
		},
		Fixed:        4,
		Dispatch:     2,
		Initializers: 1,
		Targets:      5,
		Dynamic:      1,
		Failed:       1,
	}, res.Summary())

	t.Run("empty result lists every kind", func(t *testing.T) {
		sum := (&Result{}).Summary()
		assert.Equal(t, map[string]int{"static": 0, "special": 0, "virtual": 0, "interface": 0}, sum.ByKind)
		assert.Zero(t, sum.Sites)
	})
}

func TestIndex(t *testing.T) {
	res, err := (&Scanner{}).Scan(context.Background(), testSource(false))
	require.NoError(t, err)
	x := res.Index()
	assert.Equal(t, 6, x.Len())

	run := types.MethodReference{Class: "app/Main", Name: "run", Descriptor: "(Ljava/util/List;)V"}
	ctor := types.MethodReference{Class: "app/Main", Name: "<init>", Descriptor: "()V"}
	help := types.MethodReference{Class: "app/Util", Name: "help", Descriptor: "()V"}

	t.Run("same offset in different routines", func(t *testing.T) {
		// Main.run と Util.help はどちらも pc=0 に呼び出しを持つ
		a, ok := x.Lookup(run, 0)
		require.True(t, ok)
		b, ok := x.Lookup(help, 0)
		require.True(t, ok)
		assert.True(t, a.Equal(b))
		assert.NotEqual(t, a.DeclaredTarget(), b.DeclaredTarget())
	})

	t.Run("missing", func(t *testing.T) {
		_, ok := x.Lookup(run, 1)
		assert.False(t, ok)
		_, ok = x.Lookup(ctor, 0)
		assert.False(t, ok)
	})

	t.Run("callers", func(t *testing.T) {
		logRef := types.MethodReference{Class: "app/Util", Name: "log", Descriptor: "()V"}
		assert.Equal(t, []SiteKey{
			{Routine: help, PC: 0},
			{Routine: help, PC: 3},
		}, x.Callers(logRef))

		assert.Equal(t, []SiteKey{{Routine: run, PC: 0}}, x.Callers(help))
		assert.Empty(t, x.Callers(types.MethodReference{Class: "Nope", Name: "x", Descriptor: "()V"}))
	})
}

package types

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveLookup(t *testing.T) {
	table := NewPrimitiveTable()

	t.Run("known names", func(t *testing.T) {
		cases := map[string]string{
			"int":     "I",
			"long":    "J",
			"short":   "S",
			"char":    "C",
			"byte":    "B",
			"boolean": "Z",
			"float":   "F",
			"double":  "D",
			"void":    "V",
		}
		for long, short := range cases {
			p, ok := table.Lookup(long)
			require.True(t, ok, long)
			assert.Equal(t, short, p.Name())
			assert.Equal(t, long, p.LongName())
			assert.Empty(t, p.Supertypes())
			assert.NotNil(t, p.Supertypes())
		}
	})

	t.Run("void is the shared constant", func(t *testing.T) {
		p, ok := table.Lookup("void")
		require.True(t, ok)
		assert.Same(t, VoidType(), p)

		// 別のテーブルでも同じポインタを返すこと
		p2, ok := NewPrimitiveTable().Lookup("void")
		require.True(t, ok)
		assert.Same(t, VoidType(), p2)
		assert.Equal(t, "V", VoidType().Name())
	})

	t.Run("unknown names", func(t *testing.T) {
		for _, name := range []string{"notatype", "", "Int", "INT", "integer", "in", "java.lang.Integer", "V", "I"} {
			p, ok := table.Lookup(name)
			assert.False(t, ok, name)
			assert.Nil(t, p, name)
		}
	})
}

func TestPrimitiveShortNameOf(t *testing.T) {
	table := NewPrimitiveTable()

	short, ok := table.ShortNameOf("boolean")
	require.True(t, ok)
	assert.Equal(t, "Z", short)

	short, ok = table.ShortNameOf("bool")
	assert.False(t, ok)
	assert.Empty(t, short)
}

func TestPrimitiveLookupShort(t *testing.T) {
	table := NewPrimitiveTable()

	p, ok := table.LookupShort("J")
	require.True(t, ok)
	assert.Equal(t, "long", p.LongName())

	p, ok = table.LookupShort("V")
	require.True(t, ok)
	assert.Same(t, VoidType(), p)

	_, ok = table.LookupShort("L")
	assert.False(t, ok)
	_, ok = table.LookupShort("long")
	assert.False(t, ok)
}

func TestPrimitiveTableExhaustive(t *testing.T) {
	want := []string{"boolean", "byte", "char", "double", "float", "int", "long", "short", "void"}
	assert.Equal(t, want, NewPrimitiveTable().LongNames())
	assert.Equal(t, want, Primitives().LongNames())
}

func TestSharedPrimitives(t *testing.T) {
	t.Run("package helpers use the shared table", func(t *testing.T) {
		p, ok := Lookup("int")
		require.True(t, ok)
		assert.Equal(t, "I", p.Name())

		short, ok := ShortNameOf("double")
		require.True(t, ok)
		assert.Equal(t, "D", short)

		_, ok = Lookup("notatype")
		assert.False(t, ok)
	})

	t.Run("concurrent first use", func(t *testing.T) {
		var wg sync.WaitGroup
		tables := make([]*PrimitiveTable, 16)
		for i := range tables {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tables[i] = Primitives()
			}(i)
		}
		wg.Wait()
		for _, tbl := range tables {
			assert.Same(t, tables[0], tbl)
		}
	})
}

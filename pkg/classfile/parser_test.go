package classfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/callsites/internal/classgen"
)

// helloClass mirrors javac output for
//
//	public class Hello { public static void main(String[] a) { System.out.println("hi"); } }
func helloClass() []byte {
	b := classgen.New("Hello", "java/lang/Object")
	initRef := b.Methodref("java/lang/Object", "<init>", "()V")
	printlnRef := b.Methodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
	b.Long(42)

	ctor := (&classgen.Asm{}).Op(0x2A).OpU2(0xB7, initRef).Op(0xB1)
	body := (&classgen.Asm{}).Op(0x01).OpU2(0xB6, printlnRef).Op(0xB1)
	b.Method(AccPublic, "<init>", "()V", ctor.Bytes())
	b.Method(AccPublic|AccStatic, "main", "([Ljava/lang/String;)V", body.Bytes())
	return b.Bytes()
}

func TestParseClassFile(t *testing.T) {
	cf, err := Parse(bytes.NewReader(helloClass()))
	require.NoError(t, err)

	// メジャーバージョンの検証 (Java 8 = 52)
	assert.GreaterOrEqual(t, cf.MajorVersion, uint16(52))

	// this_class が "Hello" を指すこと
	className, err := cf.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "Hello", className)
	superName, err := GetClassName(cf.ConstantPool, cf.SuperClass)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Object", superName)

	// main メソッドが存在し、Code 属性を持つこと
	mainMethod := cf.FindMethod("main", "([Ljava/lang/String;)V")
	require.NotNil(t, mainMethod)
	assert.True(t, mainMethod.IsStatic())
	require.True(t, mainMethod.HasCode())
	assert.Len(t, mainMethod.Code.Code, 5)
	assert.NotZero(t, mainMethod.Code.MaxStack)
	assert.NotZero(t, mainMethod.Code.MaxLocals)

	ctor := cf.FindMethod("<init>", "()V")
	require.NotNil(t, ctor)
	assert.False(t, ctor.IsStatic())

	assert.Nil(t, cf.FindMethod("main", "()V"))
	assert.Nil(t, cf.FindMethod("missing", "()V"))
}

func TestParseLongTakesTwoSlots(t *testing.T) {
	b := classgen.New("Wide", "java/lang/Object")
	idx := b.Long(-7)
	after := b.Utf8("after")
	cf, err := Parse(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)

	long, ok := cf.ConstantPool[idx].(*ConstantNumber)
	require.True(t, ok)
	assert.True(t, long.Wide())
	assert.Equal(t, int64(-7), int64(long.Bits))
	assert.Nil(t, cf.ConstantPool[idx+1])

	s, err := GetUtf8(cf.ConstantPool, after)
	require.NoError(t, err)
	assert.Equal(t, "after", s)
}

func TestParseInvalid(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		// 不正なマジックナンバー
		_, err := Parse(bytes.NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
		assert.ErrorContains(t, err, "invalid magic number")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse(bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		data := helloClass()
		for _, n := range []int{6, 10, 40, len(data) - 1} {
			_, err := Parse(bytes.NewReader(data[:n]))
			assert.Error(t, err, "length %d", n)
		}
	})

	t.Run("unknown constant tag", func(t *testing.T) {
		data := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52, 0, 2, 99}
		_, err := Parse(bytes.NewReader(data))
		assert.ErrorContains(t, err, "unknown constant pool tag 99")
	})
}

func TestParseAttributeLength(t *testing.T) {
	pool := []ConstantPoolEntry{nil, &ConstantUtf8{Value: "Huge"}}

	// 4GiB を宣言して 3 バイトしかない属性
	r := &reader{r: bytes.NewReader([]byte{0, 1, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF, 1, 2, 3})}
	_, err := parseAttributes(r, pool)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorContains(t, err, "reading attribute 0 data")

	r = &reader{r: bytes.NewReader([]byte{0, 1, 0, 1, 0, 0, 0, 3, 1, 2, 3})}
	attrs, err := parseAttributes(r, pool)
	require.NoError(t, err)
	assert.Equal(t, []AttributeInfo{{Name: "Huge", Data: []byte{1, 2, 3}}}, attrs)
}

func TestParseBootstrapMethods(t *testing.T) {
	const metafactory = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"

	t.Run("resolved handle", func(t *testing.T) {
		b := classgen.New("Lambda", "java/lang/Object").Bootstrap("java/lang/invoke/LambdaMetafactory", "metafactory", metafactory)
		indy := b.InvokeDynamic("run", "()Ljava/lang/Runnable;")
		cf, err := Parse(bytes.NewReader(b.Bytes()))
		require.NoError(t, err)

		methods, err := cf.BootstrapMethods()
		require.NoError(t, err)
		require.Len(t, methods, 1)
		assert.Empty(t, methods[0].BootstrapArguments)

		name, desc, err := ResolveInvokeDynamic(cf.ConstantPool, indy)
		require.NoError(t, err)
		assert.Equal(t, "run", name)
		assert.Equal(t, "()Ljava/lang/Runnable;", desc)

		ref, err := ResolveBootstrap(cf.ConstantPool, methods, indy)
		require.NoError(t, err)
		assert.Equal(t, &MemberRefInfo{Kind: TagMethodref, ClassName: "java/lang/invoke/LambdaMetafactory", Name: "metafactory", Descriptor: metafactory}, ref)

		_, err = ResolveBootstrap(cf.ConstantPool, nil, indy)
		assert.ErrorContains(t, err, "bootstrap method 0 out of range")
	})

	t.Run("no handle", func(t *testing.T) {
		b := classgen.New("Lambda", "java/lang/Object")
		indy := b.InvokeDynamic("run", "()Ljava/lang/Runnable;")
		cf, err := Parse(bytes.NewReader(b.Bytes()))
		require.NoError(t, err)

		methods, err := cf.BootstrapMethods()
		require.NoError(t, err)
		_, err = ResolveBootstrap(cf.ConstantPool, methods, indy)
		assert.ErrorContains(t, err, "invalid constant pool index 0")
	})

	t.Run("malformed table does not reject the class", func(t *testing.T) {
		b := classgen.New("Lambda", "java/lang/Object").MalformedBootstrap()
		b.InvokeDynamic("run", "()Ljava/lang/Runnable;")
		cf, err := Parse(bytes.NewReader(b.Bytes()))
		require.NoError(t, err)

		_, err = cf.BootstrapMethods()
		assert.ErrorContains(t, err, "parsing BootstrapMethods")
	})

	t.Run("absent", func(t *testing.T) {
		cf, err := Parse(bytes.NewReader(helloClass()))
		require.NoError(t, err)
		methods, err := cf.BootstrapMethods()
		require.NoError(t, err)
		assert.Nil(t, methods)
	})
}

func TestParseCodeAttribute(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := parseCodeAttribute([]byte{0, 1, 0, 1})
		assert.Error(t, err)
	})

	t.Run("code length beyond data", func(t *testing.T) {
		_, err := parseCodeAttribute([]byte{0, 1, 0, 1, 0, 0, 0, 9, 0xB1})
		assert.Error(t, err)
	})

	t.Run("exception table is ignored", func(t *testing.T) {
		data := []byte{
			0, 2, 0, 3,       // max_stack, max_locals
			0, 0, 0, 1, 0xB1, // code
			0, 1,             // one handler
			0, 0, 0, 1, 0, 0, 0, 5,
		}
		code, err := parseCodeAttribute(data)
		require.NoError(t, err)
		assert.Equal(t, uint16(2), code.MaxStack)
		assert.Equal(t, uint16(3), code.MaxLocals)
		assert.Equal(t, []byte{0xB1}, code.Code)
	})
}

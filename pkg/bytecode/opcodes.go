package bytecode

// Opcodes
const (
	OpNop             = 0x00
	OpAconstNull      = 0x01
	OpIconstM1        = 0x02
	OpIconst0         = 0x03
	OpIconst1         = 0x04
	OpIconst2         = 0x05
	OpIconst3         = 0x06
	OpIconst4         = 0x07
	OpIconst5         = 0x08
	OpLconst0         = 0x09
	OpLconst1         = 0x0A
	OpFconst0         = 0x0B
	OpFconst1         = 0x0C
	OpFconst2         = 0x0D
	OpDconst0         = 0x0E
	OpDconst1         = 0x0F
	OpBipush          = 0x10
	OpSipush          = 0x11
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpLload           = 0x16
	OpFload           = 0x17
	OpDload           = 0x18
	OpAload           = 0x19
	OpIload0          = 0x1A
	OpIload1          = 0x1B
	OpIload2          = 0x1C
	OpIload3          = 0x1D
	OpLload0          = 0x1E
	OpLload1          = 0x1F
	OpLload2          = 0x20
	OpLload3          = 0x21
	OpFload0          = 0x22
	OpFload1          = 0x23
	OpFload2          = 0x24
	OpFload3          = 0x25
	OpDload0          = 0x26
	OpDload1          = 0x27
	OpDload2          = 0x28
	OpDload3          = 0x29
	OpAload0          = 0x2A
	OpAload1          = 0x2B
	OpAload2          = 0x2C
	OpAload3          = 0x2D
	OpIaload          = 0x2E
	OpLaload          = 0x2F
	OpFaload          = 0x30
	OpDaload          = 0x31
	OpAaload          = 0x32
	OpBaload          = 0x33
	OpCaload          = 0x34
	OpSaload          = 0x35
	OpIstore          = 0x36
	OpLstore          = 0x37
	OpFstore          = 0x38
	OpDstore          = 0x39
	OpAstore          = 0x3A
	OpIstore0         = 0x3B
	OpIstore1         = 0x3C
	OpIstore2         = 0x3D
	OpIstore3         = 0x3E
	OpLstore0         = 0x3F
	OpLstore1         = 0x40
	OpLstore2         = 0x41
	OpLstore3         = 0x42
	OpFstore0         = 0x43
	OpFstore1         = 0x44
	OpFstore2         = 0x45
	OpFstore3         = 0x46
	OpDstore0         = 0x47
	OpDstore1         = 0x48
	OpDstore2         = 0x49
	OpDstore3         = 0x4A
	OpAstore0         = 0x4B
	OpAstore1         = 0x4C
	OpAstore2         = 0x4D
	OpAstore3         = 0x4E
	OpIastore         = 0x4F
	OpLastore         = 0x50
	OpFastore         = 0x51
	OpDastore         = 0x52
	OpAastore         = 0x53
	OpBastore         = 0x54
	OpCastore         = 0x55
	OpSastore         = 0x56
	OpPop             = 0x57
	OpPop2            = 0x58
	OpDup             = 0x59
	OpDupX1           = 0x5A
	OpDupX2           = 0x5B
	OpDup2            = 0x5C
	OpDup2X1          = 0x5D
	OpDup2X2          = 0x5E
	OpSwap            = 0x5F
	OpIadd            = 0x60
	OpLadd            = 0x61
	OpFadd            = 0x62
	OpDadd            = 0x63
	OpIsub            = 0x64
	OpLsub            = 0x65
	OpFsub            = 0x66
	OpDsub            = 0x67
	OpImul            = 0x68
	OpLmul            = 0x69
	OpFmul            = 0x6A
	OpDmul            = 0x6B
	OpIdiv            = 0x6C
	OpLdiv            = 0x6D
	OpFdiv            = 0x6E
	OpDdiv            = 0x6F
	OpIrem            = 0x70
	OpLrem            = 0x71
	OpFrem            = 0x72
	OpDrem            = 0x73
	OpIneg            = 0x74
	OpLneg            = 0x75
	OpFneg            = 0x76
	OpDneg            = 0x77
	OpIshl            = 0x78
	OpLshl            = 0x79
	OpIshr            = 0x7A
	OpLshr            = 0x7B
	OpIushr           = 0x7C
	OpLushr           = 0x7D
	OpIand            = 0x7E
	OpLand            = 0x7F
	OpIor             = 0x80
	OpLor             = 0x81
	OpIxor            = 0x82
	OpLxor            = 0x83
	OpIinc            = 0x84
	OpI2l             = 0x85
	OpI2f             = 0x86
	OpI2d             = 0x87
	OpL2i             = 0x88
	OpL2f             = 0x89
	OpL2d             = 0x8A
	OpF2i             = 0x8B
	OpF2l             = 0x8C
	OpF2d             = 0x8D
	OpD2i             = 0x8E
	OpD2l             = 0x8F
	OpD2f             = 0x90
	OpI2b             = 0x91
	OpI2c             = 0x92
	OpI2s             = 0x93
	OpLcmp            = 0x94
	OpFcmpl           = 0x95
	OpFcmpg           = 0x96
	OpDcmpl           = 0x97
	OpDcmpg           = 0x98
	OpIfeq            = 0x99
	OpIfne            = 0x9A
	OpIflt            = 0x9B
	OpIfge            = 0x9C
	OpIfgt            = 0x9D
	OpIfle            = 0x9E
	OpIfIcmpeq        = 0x9F
	OpIfIcmpne        = 0xA0
	OpIfIcmplt        = 0xA1
	OpIfIcmpge        = 0xA2
	OpIfIcmpgt        = 0xA3
	OpIfIcmple        = 0xA4
	OpIfAcmpeq        = 0xA5
	OpIfAcmpne        = 0xA6
	OpGoto            = 0xA7
	OpJsr             = 0xA8
	OpRet             = 0xA9
	OpTableswitch     = 0xAA
	OpLookupswitch    = 0xAB
	OpIreturn         = 0xAC
	OpLreturn         = 0xAD
	OpFreturn         = 0xAE
	OpDreturn         = 0xAF
	OpAreturn         = 0xB0
	OpReturn          = 0xB1
	OpGetstatic       = 0xB2
	OpPutstatic       = 0xB3
	OpGetfield        = 0xB4
	OpPutfield        = 0xB5
	OpInvokevirtual   = 0xB6
	OpInvokespecial   = 0xB7
	OpInvokestatic    = 0xB8
	OpInvokeinterface = 0xB9
	OpInvokedynamic   = 0xBA
	OpNew             = 0xBB
	OpNewarray        = 0xBC
	OpAnewarray       = 0xBD
	OpArraylength     = 0xBE
	OpAthrow          = 0xBF
	OpCheckcast       = 0xC0
	OpInstanceof      = 0xC1
	OpMonitorenter    = 0xC2
	OpMonitorexit     = 0xC3
	OpWide            = 0xC4
	OpMultianewarray  = 0xC5
	OpIfnull          = 0xC6
	OpIfnonnull       = 0xC7
	OpGotoW           = 0xC8
	OpJsrW            = 0xC9
	OpBreakpoint      = 0xCA
	OpImpdep1         = 0xFE
	OpImpdep2         = 0xFF
)

// opcodeInfo is indexed by opcode. A length of 0 marks a variable-length
// instruction; an empty mnemonic marks an undefined opcode.
var opcodeInfo = [256]struct {
	mnemonic string
	length   int
}{
	OpNop:             {"nop", 1},
	OpAconstNull:      {"aconst_null", 1},
	OpIconstM1:        {"iconst_m1", 1},
	OpIconst0:         {"iconst_0", 1},
	OpIconst1:         {"iconst_1", 1},
	OpIconst2:         {"iconst_2", 1},
	OpIconst3:         {"iconst_3", 1},
	OpIconst4:         {"iconst_4", 1},
	OpIconst5:         {"iconst_5", 1},
	OpLconst0:         {"lconst_0", 1},
	OpLconst1:         {"lconst_1", 1},
	OpFconst0:         {"fconst_0", 1},
	OpFconst1:         {"fconst_1", 1},
	OpFconst2:         {"fconst_2", 1},
	OpDconst0:         {"dconst_0", 1},
	OpDconst1:         {"dconst_1", 1},
	OpBipush:          {"bipush", 2},
	OpSipush:          {"sipush", 3},
	OpLdc:             {"ldc", 2},
	OpLdcW:            {"ldc_w", 3},
	OpLdc2W:           {"ldc2_w", 3},
	OpIload:           {"iload", 2},
	OpLload:           {"lload", 2},
	OpFload:           {"fload", 2},
	OpDload:           {"dload", 2},
	OpAload:           {"aload", 2},
	OpIload0:          {"iload_0", 1},
	OpIload1:          {"iload_1", 1},
	OpIload2:          {"iload_2", 1},
	OpIload3:          {"iload_3", 1},
	OpLload0:          {"lload_0", 1},
	OpLload1:          {"lload_1", 1},
	OpLload2:          {"lload_2", 1},
	OpLload3:          {"lload_3", 1},
	OpFload0:          {"fload_0", 1},
	OpFload1:          {"fload_1", 1},
	OpFload2:          {"fload_2", 1},
	OpFload3:          {"fload_3", 1},
	OpDload0:          {"dload_0", 1},
	OpDload1:          {"dload_1", 1},
	OpDload2:          {"dload_2", 1},
	OpDload3:          {"dload_3", 1},
	OpAload0:          {"aload_0", 1},
	OpAload1:          {"aload_1", 1},
	OpAload2:          {"aload_2", 1},
	OpAload3:          {"aload_3", 1},
	OpIaload:          {"iaload", 1},
	OpLaload:          {"laload", 1},
	OpFaload:          {"faload", 1},
	OpDaload:          {"daload", 1},
	OpAaload:          {"aaload", 1},
	OpBaload:          {"baload", 1},
	OpCaload:          {"caload", 1},
	OpSaload:          {"saload", 1},
	OpIstore:          {"istore", 2},
	OpLstore:          {"lstore", 2},
	OpFstore:          {"fstore", 2},
	OpDstore:          {"dstore", 2},
	OpAstore:          {"astore", 2},
	OpIstore0:         {"istore_0", 1},
	OpIstore1:         {"istore_1", 1},
	OpIstore2:         {"istore_2", 1},
	OpIstore3:         {"istore_3", 1},
	OpLstore0:         {"lstore_0", 1},
	OpLstore1:         {"lstore_1", 1},
	OpLstore2:         {"lstore_2", 1},
	OpLstore3:         {"lstore_3", 1},
	OpFstore0:         {"fstore_0", 1},
	OpFstore1:         {"fstore_1", 1},
	OpFstore2:         {"fstore_2", 1},
	OpFstore3:         {"fstore_3", 1},
	OpDstore0:         {"dstore_0", 1},
	OpDstore1:         {"dstore_1", 1},
	OpDstore2:         {"dstore_2", 1},
	OpDstore3:         {"dstore_3", 1},
	OpAstore0:         {"astore_0", 1},
	OpAstore1:         {"astore_1", 1},
	OpAstore2:         {"astore_2", 1},
	OpAstore3:         {"astore_3", 1},
	OpIastore:         {"iastore", 1},
	OpLastore:         {"lastore", 1},
	OpFastore:         {"fastore", 1},
	OpDastore:         {"dastore", 1},
	OpAastore:         {"aastore", 1},
	OpBastore:         {"bastore", 1},
	OpCastore:         {"castore", 1},
	OpSastore:         {"sastore", 1},
	OpPop:             {"pop", 1},
	OpPop2:            {"pop2", 1},
	OpDup:             {"dup", 1},
	OpDupX1:           {"dup_x1", 1},
	OpDupX2:           {"dup_x2", 1},
	OpDup2:            {"dup2", 1},
	OpDup2X1:          {"dup2_x1", 1},
	OpDup2X2:          {"dup2_x2", 1},
	OpSwap:            {"swap", 1},
	OpIadd:            {"iadd", 1},
	OpLadd:            {"ladd", 1},
	OpFadd:            {"fadd", 1},
	OpDadd:            {"dadd", 1},
	OpIsub:            {"isub", 1},
	OpLsub:            {"lsub", 1},
	OpFsub:            {"fsub", 1},
	OpDsub:            {"dsub", 1},
	OpImul:            {"imul", 1},
	OpLmul:            {"lmul", 1},
	OpFmul:            {"fmul", 1},
	OpDmul:            {"dmul", 1},
	OpIdiv:            {"idiv", 1},
	OpLdiv:            {"ldiv", 1},
	OpFdiv:            {"fdiv", 1},
	OpDdiv:            {"ddiv", 1},
	OpIrem:            {"irem", 1},
	OpLrem:            {"lrem", 1},
	OpFrem:            {"frem", 1},
	OpDrem:            {"drem", 1},
	OpIneg:            {"ineg", 1},
	OpLneg:            {"lneg", 1},
	OpFneg:            {"fneg", 1},
	OpDneg:            {"dneg", 1},
	OpIshl:            {"ishl", 1},
	OpLshl:            {"lshl", 1},
	OpIshr:            {"ishr", 1},
	OpLshr:            {"lshr", 1},
	OpIushr:           {"iushr", 1},
	OpLushr:           {"lushr", 1},
	OpIand:            {"iand", 1},
	OpLand:            {"land", 1},
	OpIor:             {"ior", 1},
	OpLor:             {"lor", 1},
	OpIxor:            {"ixor", 1},
	OpLxor:            {"lxor", 1},
	OpIinc:            {"iinc", 3},
	OpI2l:             {"i2l", 1},
	OpI2f:             {"i2f", 1},
	OpI2d:             {"i2d", 1},
	OpL2i:             {"l2i", 1},
	OpL2f:             {"l2f", 1},
	OpL2d:             {"l2d", 1},
	OpF2i:             {"f2i", 1},
	OpF2l:             {"f2l", 1},
	OpF2d:             {"f2d", 1},
	OpD2i:             {"d2i", 1},
	OpD2l:             {"d2l", 1},
	OpD2f:             {"d2f", 1},
	OpI2b:             {"i2b", 1},
	OpI2c:             {"i2c", 1},
	OpI2s:             {"i2s", 1},
	OpLcmp:            {"lcmp", 1},
	OpFcmpl:           {"fcmpl", 1},
	OpFcmpg:           {"fcmpg", 1},
	OpDcmpl:           {"dcmpl", 1},
	OpDcmpg:           {"dcmpg", 1},
	OpIfeq:            {"ifeq", 3},
	OpIfne:            {"ifne", 3},
	OpIflt:            {"iflt", 3},
	OpIfge:            {"ifge", 3},
	OpIfgt:            {"ifgt", 3},
	OpIfle:            {"ifle", 3},
	OpIfIcmpeq:        {"if_icmpeq", 3},
	OpIfIcmpne:        {"if_icmpne", 3},
	OpIfIcmplt:        {"if_icmplt", 3},
	OpIfIcmpge:        {"if_icmpge", 3},
	OpIfIcmpgt:        {"if_icmpgt", 3},
	OpIfIcmple:        {"if_icmple", 3},
	OpIfAcmpeq:        {"if_acmpeq", 3},
	OpIfAcmpne:        {"if_acmpne", 3},
	OpGoto:            {"goto", 3},
	OpJsr:             {"jsr", 3},
	OpRet:             {"ret", 2},
	OpTableswitch:     {"tableswitch", 0},
	OpLookupswitch:    {"lookupswitch", 0},
	OpIreturn:         {"ireturn", 1},
	OpLreturn:         {"lreturn", 1},
	OpFreturn:         {"freturn", 1},
	OpDreturn:         {"dreturn", 1},
	OpAreturn:         {"areturn", 1},
	OpReturn:          {"return", 1},
	OpGetstatic:       {"getstatic", 3},
	OpPutstatic:       {"putstatic", 3},
	OpGetfield:        {"getfield", 3},
	OpPutfield:        {"putfield", 3},
	OpInvokevirtual:   {"invokevirtual", 3},
	OpInvokespecial:   {"invokespecial", 3},
	OpInvokestatic:    {"invokestatic", 3},
	OpInvokeinterface: {"invokeinterface", 5},
	OpInvokedynamic:   {"invokedynamic", 5},
	OpNew:             {"new", 3},
	OpNewarray:        {"newarray", 2},
	OpAnewarray:       {"anewarray", 3},
	OpArraylength:     {"arraylength", 1},
	OpAthrow:          {"athrow", 1},
	OpCheckcast:       {"checkcast", 3},
	OpInstanceof:      {"instanceof", 3},
	OpMonitorenter:    {"monitorenter", 1},
	OpMonitorexit:     {"monitorexit", 1},
	OpWide:            {"wide", 0},
	OpMultianewarray:  {"multianewarray", 4},
	OpIfnull:          {"ifnull", 3},
	OpIfnonnull:       {"ifnonnull", 3},
	OpGotoW:           {"goto_w", 5},
	OpJsrW:            {"jsr_w", 5},
	OpBreakpoint:      {"breakpoint", 1},
	OpImpdep1:         {"impdep1", 1},
	OpImpdep2:         {"impdep2", 1},
}

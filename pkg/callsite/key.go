package callsite

// Key identifies a call site across methods: the routine it belongs to plus
// its offset. R is whatever the caller uses to name routines, for example a
// types.MethodReference value or a call graph node ID.
type Key[R comparable] struct {
	Routine R
	PC      ProgramCounter
}

// KeyOf pairs s with the routine that contains it.
func KeyOf[R comparable](routine R, s Site) Key[R] {
	return Key[R]{Routine: routine, PC: s.ProgramCounter()}
}

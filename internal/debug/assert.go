package debug

import (
	"fmt"
	"runtime"
)

// Assert panics when truth is false. It is reserved for programming errors
// (violated preconditions, impossible encoder states), never for input that
// came off the wire.
//
// NOTE: modelled after
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(fmt.Sprintf("assertion failed(%s)", msg))
	}
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

func fail(msg string) {
	// skip fail and the exported Assert* frame. due to panic recovery the
	// location is otherwise buried in the middle of the panicking stack.
	if _, file, line, ok := runtime.Caller(2); ok {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	panic(msg)
}

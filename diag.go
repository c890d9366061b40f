package isoalloc

import (
	"fmt"
	"os"
)

// abortf reports a structured diagnostic for a detected corruption or
// protocol violation and then aborts the process. There is deliberately
// no recover path for these: once a metadata invariant is known to be
// false, continuing to run risks acting on attacker-controlled state.
func abortf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	panic(msg)
}

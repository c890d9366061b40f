package isoalloc

/*
#include <sys/mman.h>
#include <unistd.h>

#define _MAP_FAILED (intptr_t)MAP_FAILED
*/
import "C"

import (
	"unsafe"
)

// pageSize is the runtime's native page size, used to round every
// guarded region up to whole pages so guard pages never share a page
// with the data they protect.
var pageSize = uintptr(C.getpagesize())

type protMode int

const (
	protNone protMode = iota
	protRW
)

func protFlags(mode protMode) C.int {
	switch mode {
	case protNone:
		return C.PROT_NONE
	case protRW:
		return C.PROT_READ | C.PROT_WRITE
	}
	abortf("isoalloc: unknown protection mode %d", mode)
	panic("unreachable")
}

type adviseHint int

const (
	adviseWillNeed adviseHint = iota
	adviseSequential
	adviseRandom
)

func adviseFlags(hint adviseHint) C.int {
	switch hint {
	case adviseWillNeed:
		return C.MADV_WILLNEED
	case adviseSequential:
		return C.MADV_SEQUENTIAL
	case adviseRandom:
		return C.MADV_RANDOM
	}
	abortf("isoalloc: unknown advise hint %d", hint)
	panic("unreachable")
}

// pageRound rounds n up to the next whole multiple of pageSize. A
// request of zero still reserves one page, since a zero-sized guarded
// region would leave the two guard pages adjacent with nothing between
// them to protect.
func pageRound(n uintptr) uintptr {
	if n == 0 {
		return pageSize
	}
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// vmReserveRW maps n fresh, zero-filled, anonymous bytes of
// read-write memory. It aborts on failure; callers never see a nil
// mapping to check for.
func vmReserveRW(n uintptr) unsafe.Pointer {
	p, err := C.mmap(nil, C.size_t(n), C.PROT_READ|C.PROT_WRITE, C.MAP_ANON|C.MAP_PRIVATE, -1, 0)
	if int(uintptr(p)) == int(C._MAP_FAILED) {
		abortf("isoalloc: mmap(%d) failed: %v", n, err)
	}
	return p
}

func vmProtect(p unsafe.Pointer, n uintptr, mode protMode) {
	if ret, err := C.mprotect(p, C.size_t(n), protFlags(mode)); ret != 0 {
		abortf("isoalloc: mprotect(%p, %d) failed: %v", p, n, err)
	}
}

// vmAdvise hints at expected access patterns. Advice is best effort;
// a kernel that ignores or rejects it does not change correctness.
func vmAdvise(p unsafe.Pointer, n uintptr, hint adviseHint) {
	C.madvise(p, C.size_t(n), adviseFlags(hint))
}

func vmRelease(p unsafe.Pointer, n uintptr) {
	if ret, err := C.munmap(p, C.size_t(n)); ret != 0 {
		abortf("isoalloc: munmap(%p, %d) failed: %v", p, n, err)
	}
}

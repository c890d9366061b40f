package isoalloc

/*
#cgo pkg-config: libsodium

#include <sodium/core.h>
#include <sodium/randombytes.h>
#include <sodium/utils.h>
*/
import "C"

import (
	"encoding/binary"
	"unsafe"
)

func init() {
	if int(C.sodium_init()) == -1 {
		panic("isoalloc: libsodium could not be initialized")
	}
}

// secureRandomUint64 returns a cryptographically random value, used
// for canary secrets and pointer-masking keys. It must never be used
// for the allocator's non-security-critical randomization (that's
// weakRand's job): it is orders of magnitude slower and the extra
// unpredictability buys nothing there.
func secureRandomUint64() uint64 {
	var buf [8]byte
	C.randombytes_buf(unsafe.Pointer(&buf[0]), C.size_t(len(buf)))
	return binary.LittleEndian.Uint64(buf[:])
}

// secureZero overwrites n bytes starting at p with zero in a way the
// compiler is not permitted to optimize away, unlike a plain Go loop
// over a slice the compiler can prove is never read again.
func secureZero(p unsafe.Pointer, n uintptr) {
	C.sodium_memzero(p, C.size_t(n))
}

// Package isoalloc is a hardened general-purpose allocator meant to stand
// in for a platform's default heap in processes that want stronger
// in-process memory-safety guarantees than malloc/free normally provide.
//
// It detects, rather than tolerates, the usual heap-corruption bugs:
// linear overflows fault immediately against guard pages; use-after-free
// and buffer overflow into a freed chunk are caught by a per-chunk canary
// verified on every adjacent free and on VerifyAll; double-frees and
// frees of foreign pointers abort outright; and zone metadata pointers
// are kept XORed with a per-zone secret while quiescent, so a corrupted
// header can't be walked into a fake zone.
//
// Allocations are served out of size-classed zones, each a few megabytes
// of address space bracketed by inaccessible guard pages and indexed by
// a two-bit-per-chunk occupancy bitmap, also guard-paged. There is a
// single process-wide allocator, guarded by one mutex; operations do not
// scale across cores, by design, in exchange for never leaving a bitmap
// update partially applied.
//
// Examples
//
//	p := isoalloc.Alloc(32)
//	copy(isoalloc.Bytes(p, 32), []byte("up to 32 bytes of payload here"))
//	isoalloc.Free(p)
//
// A violation aborts the process with a diagnostic naming the zone,
// chunk address, and the canary values involved; there is no recovery
// path, by design (see the package's design notes for the rationale).
package isoalloc

package isoalloc

import (
	"sync"
	"unsafe"
)

// rootData is the allocator's zone table. Like zone, every field is a
// scalar, array, or uintptr: rootData itself lives inside a guarded
// mmap'd region rather than on the Go heap, so ProtectRoot can make
// the whole table inaccessible and have a stray write into it fault
// immediately instead of silently corrupting allocator state.
type rootData struct {
	pageSize   uintptr
	handleMask uint64
	used       int32
	zones      [MaxZones]zone
}

// allocatorState is the process-wide singleton. Its mutex is
// deliberately NOT part of rootData: rootData's memory can be sealed
// to PROT_NONE by ProtectRoot, and a mutex living on a page that might
// be sealed could never be locked again to unseal it. The mutex
// guards access to the pointer and the sealed flag; the guard pages
// around rootData protect the zone table's contents.
type allocatorState struct {
	mu        sync.Mutex
	data      *rootData
	regionPtr uintptr
	regionLen uintptr
	sealed    bool
}

var gAlloc allocatorState

// ensureInit lazily builds the root registry and its default zones on
// first use. Callers must already hold gAlloc.mu.
func ensureInit() {
	if gAlloc.data != nil {
		return
	}
	seedWeakRand()

	start := guardedAlloc(unsafe.Sizeof(rootData{}))
	r := (*rootData)(unsafe.Pointer(start))
	*r = rootData{}
	r.pageSize = pageSize
	r.handleMask = secureRandomUint64()

	gAlloc.data = r
	gAlloc.regionPtr = start - pageSize
	gAlloc.regionLen = pageRound(unsafe.Sizeof(rootData{})) + 2*pageSize

	for _, size := range DefaultZoneSizes {
		createZone(r, size)
	}
}

// withRoot locks the allocator, lazily initializes it, refuses to run
// fn while the root is sealed, and always unlocks on the way out
// (including when fn panics via abortf). Releasing the lock on an
// aborted operation is purely a courtesy to whatever inspects the
// process after the panic; nothing resumes using it.
func withRoot(fn func(*rootData)) {
	gAlloc.mu.Lock()
	defer gAlloc.mu.Unlock()
	ensureInit()
	if gAlloc.sealed {
		abortf("isoalloc: operation attempted while root is sealed")
	}
	fn(gAlloc.data)
}

// ProtectRoot seals the zone table to PROT_NONE. While sealed, Alloc,
// Free, ChunkSize, VerifyAll, Stats and the operations built on them
// abort (a nil pointer passed to Free or ChunkSize is still a no-op),
// and a repeated ProtectRoot does nothing. It is meant for
// stretches where the caller knows no allocation activity should be
// happening and wants any stray write into allocator metadata to
// fault immediately rather than land silently.
func ProtectRoot() {
	gAlloc.mu.Lock()
	defer gAlloc.mu.Unlock()
	ensureInit()
	if gAlloc.sealed {
		return
	}
	guardedSeal(uintptr(unsafe.Pointer(gAlloc.data)), unsafe.Sizeof(rootData{}))
	gAlloc.sealed = true
}

// UnprotectRoot reverses ProtectRoot.
func UnprotectRoot() {
	gAlloc.mu.Lock()
	defer gAlloc.mu.Unlock()
	if gAlloc.data == nil || !gAlloc.sealed {
		return
	}
	guardedUnseal(uintptr(unsafe.Pointer(gAlloc.data)), unsafe.Sizeof(rootData{}))
	gAlloc.sealed = false
}

// VerifyAll checks the canary of every canary-bearing chunk in every
// zone (ordinarily freed, permanently freed, or seeded at zone
// creation), aborting on the first mismatch found. Chunks currently
// handed out carry no canary and are not checked.
func VerifyAll() {
	withRoot(func(root *rootData) {
		for i := int32(0); i < root.used; i++ {
			verifyZone(&root.zones[i])
		}
	})
}

// Shutdown verifies and tears down every zone and releases the root
// registry itself. The allocator reinitializes from scratch on the
// next call into it.
func Shutdown() {
	gAlloc.mu.Lock()
	defer gAlloc.mu.Unlock()
	if gAlloc.data == nil {
		return
	}
	root := gAlloc.data
	for i := int32(0); i < root.used; i++ {
		z := &root.zones[i]
		verifyZone(z)
		destroyZone(z)
	}
	vmRelease(unsafe.Pointer(gAlloc.regionPtr), gAlloc.regionLen)
	gAlloc.data = nil
	gAlloc.sealed = false
}

// findOwningZone returns the zone whose chunk storage contains addr,
// or nil if no zone claims it.
func findOwningZone(root *rootData, addr uintptr) *zone {
	for i := int32(0); i < root.used; i++ {
		z := &root.zones[i]

		var owned bool
		z.withUnmasked(func(z *zone) {
			owned = addr >= z.userStart && addr < z.userEnd
		})
		if owned {
			return z
		}
	}
	return nil
}

// findZoneFit returns the first non-full zone whose chunk size is at
// least size and that isZoneUsable judges worth using, or nil if none
// qualifies.
func findZoneFit(root *rootData, size uint32) *zone {
	for i := int32(0); i < root.used; i++ {
		z := &root.zones[i]
		if z.full {
			continue
		}
		if z.chunkSize < size {
			continue
		}
		if isZoneUsable(z, size) {
			return z
		}
	}
	return nil
}

// isZoneUsable reports whether z has a free chunk available for a
// size-byte request, priming z.nextFreeSlot as a side effect when it
// does. A zone that already has a primed free slot is usable at once.
// Otherwise, for requests above 1024 bytes, a zone whose chunk size is
// at least WastedMultiplier times the request is rejected without
// checking for free chunks. Requests of 1024 bytes or less are not
// subject to this size check.
func isZoneUsable(z *zone, size uint32) bool {
	if z.nextFreeSlot != badSlot {
		return true
	}
	if size > 1024 && uint32(z.chunkSize) >= size*WastedMultiplier {
		return false
	}

	usable := false
	z.withUnmasked(func(z *zone) {
		bitmap := bitmapBytes(z)

		if z.cacheCons >= int32(len(z.cache)) || z.cache[z.cacheCons] == badSlot {
			fillCache(z, bitmap)
		}
		if slot := getNext(z); slot != badSlot {
			z.nextFreeSlot = slot
			usable = true
			return
		}

		totalSlots := int64(z.chunkCount) * 2
		if slot := fastScan(bitmap, totalSlots); slot != badSlot {
			z.nextFreeSlot = slot
			usable = true
			return
		}
		if slot := slowScan(bitmap, totalSlots); slot != badSlot {
			z.nextFreeSlot = slot
			usable = true
			return
		}

		z.full = true
	})
	return usable
}

package isoalloc

import "unsafe"

// zone is one size-classed arena: a guard-paged occupancy bitmap plus
// a guard-paged block of chunk storage, all of it chunkSize-sliced.
//
// Every field here is a scalar, a fixed-size array, or a uintptr.
// Never a live Go pointer, because zone values live inside the root
// registry's own raw mmap'd memory, outside the Go heap. A pointer
// field would need the garbage collector to know about that memory,
// which it never will.
//
// bitmapStart, bitmapEnd, userStart and userEnd are kept XORed with
// pointerMask whenever the zone is not actively being operated on.
// Code must go through withUnmasked to read or write them; touching
// them directly outside that scope reads or writes nonsense addresses.
type zone struct {
	index      int32
	full       bool
	chunkSize  uint32
	chunkCount uint32
	bitmapSize uintptr

	bitmapStart uintptr
	bitmapEnd   uintptr
	userStart   uintptr
	userEnd     uintptr

	canarySecret uint64
	pointerMask  uint64

	cache     [BitSlotCacheSize]int64
	cacheProd int32
	cacheCons int32

	nextFreeSlot int64
}

func (z *zone) toggleMask() {
	z.bitmapStart ^= uintptr(z.pointerMask)
	z.bitmapEnd ^= uintptr(z.pointerMask)
	z.userStart ^= uintptr(z.pointerMask)
	z.userEnd ^= uintptr(z.pointerMask)
}

func (z *zone) unmask() { z.toggleMask() }
func (z *zone) mask()   { z.toggleMask() }

// withUnmasked unmasks z's pointer fields, runs fn, and re-masks them
// before returning, even if fn panics. Every caller of this package
// already holds the root mutex, so there is never more than one
// unmasked view of a zone extant at a time.
func (z *zone) withUnmasked(fn func(*zone)) {
	z.unmask()
	defer z.mask()
	fn(z)
}

func maxDefaultZoneSize() uint32 {
	return DefaultZoneSizes[len(DefaultZoneSizes)-1]
}

// createZone carves out a new zone for chunkSize-byte chunks inside
// root's zone table, reserving its bitmap and chunk storage as two
// independently guard-paged mappings.
func createZone(root *rootData, chunkSize uint32) *zone {
	chunkSize = uint32(roundUpAlignment(uintptr(chunkSize)))

	if root.used >= int32(MaxZones) {
		abortf("isoalloc: zone table full (max %d zones)", MaxZones)
	}

	chunkCount := uint32(ZoneUserSize) / chunkSize
	if chunkCount == 0 {
		abortf("isoalloc: chunk size %d exceeds zone capacity", chunkSize)
	}
	bitmapSize := uintptr((chunkCount*2 + 7) / 8)

	bitmapStart := guardedAlloc(bitmapSize)
	userStart := guardedAlloc(uintptr(ZoneUserSize))

	vmAdvise(unsafe.Pointer(bitmapStart), bitmapSize, adviseWillNeed)
	vmAdvise(unsafe.Pointer(bitmapStart), bitmapSize, adviseSequential)
	vmAdvise(unsafe.Pointer(userStart), uintptr(ZoneUserSize), adviseWillNeed)
	vmAdvise(unsafe.Pointer(userStart), uintptr(ZoneUserSize), adviseRandom)

	idx := root.used
	z := &root.zones[idx]
	*z = zone{}
	z.index = idx
	z.chunkSize = chunkSize
	z.chunkCount = chunkCount
	z.bitmapSize = bitmapSize
	z.bitmapStart = bitmapStart
	z.bitmapEnd = bitmapStart + bitmapSize
	z.userStart = userStart
	z.userEnd = userStart + uintptr(ZoneUserSize)
	z.canarySecret = secureRandomUint64()
	z.pointerMask = secureRandomUint64()

	if chunkSize <= maxDefaultZoneSize() {
		seedCanaryChunks(z)
	}

	bitmap := bitmapBytes(z)
	fillCache(z, bitmap)
	z.nextFreeSlot = getNext(z)

	z.mask()

	root.used++
	return z
}

// seedCanaryChunks plants a canary in roughly one out of
// CanaryCountDivisor chunks, at random, and marks them occupied and
// canary-bearing forever: they are never handed out by Alloc, only
// ever walked past or corrupted into by an overflow. Collisions
// between draws are harmless; a chunk just ends up seeded once.
func seedCanaryChunks(z *zone) {
	count := int(z.chunkCount) / CanaryCountDivisor
	if count < 1 {
		count = 1
	}
	bitmap := bitmapBytes(z)
	for i := 0; i < count; i++ {
		idx := weakRandIntn(int(z.chunkCount))
		slot := int64(idx) * 2
		set2bit(bitmap, slot, occupiedBit|canaryBit)
		chunkAddr := z.userStart + uintptr(idx)*uintptr(z.chunkSize)
		writeCanary(z, chunkAddr)
	}
}

// verifyZone checks the canary of every chunk currently carrying one.
func verifyZone(z *zone) {
	z.withUnmasked(func(z *zone) {
		bitmap := bitmapBytes(z)
		totalSlots := int64(z.chunkCount) * 2
		for slot := int64(0); slot < totalSlots; slot += 2 {
			if get2bit(bitmap, slot)&canaryBit != 0 {
				chunkAddr := z.userStart + uintptr(slot/2)*uintptr(z.chunkSize)
				checkCanary(z, chunkAddr)
			}
		}
	})
}

// destroyZone unmaps a zone's bitmap and chunk storage outright and
// zeroes its header, freeing the slot for reuse. Every zone in this
// package is created and owned by the allocator itself, so there is
// no other lifecycle to support: destroyZone only ever runs as part
// of a full Shutdown, never while some other code might still be
// holding a pointer into the zone being torn down.
func destroyZone(z *zone) {
	z.withUnmasked(func(z *zone) {
		guardedRelease(z.bitmapStart, z.bitmapSize)
		guardedRelease(z.userStart, uintptr(ZoneUserSize))
		*z = zone{}
	})
}

package isoalloc

import "unsafe"

// defaultClassFor returns the smallest default zone size able to hold
// size bytes, or size itself rounded to Alignment if it exceeds every
// default class.
func defaultClassFor(size uintptr) uint32 {
	for _, c := range DefaultZoneSizes {
		if uintptr(c) >= size {
			return c
		}
	}
	return uint32(roundUpAlignment(size))
}

// Alloc returns a pointer to at least n bytes of memory, or aborts if
// n is negative or no zone can be created to satisfy it. Alloc(0)
// still returns a distinct, valid pointer.
func Alloc(n int) unsafe.Pointer {
	if n < 0 {
		abortf("isoalloc: Alloc(%d): negative size", n)
	}
	var ptr unsafe.Pointer
	withRoot(func(root *rootData) {
		ptr = allocLocked(root, uintptr(n))
	})
	return ptr
}

func allocLocked(root *rootData, size uintptr) unsafe.Pointer {
	size = roundUpAlignment(size)
	chunkSize := uint32(size)

	z := findZoneFit(root, chunkSize)
	if z == nil {
		z = createZone(root, defaultClassFor(size))
		if z.nextFreeSlot == badSlot {
			abortf("isoalloc: zone %d: freshly created zone yielded no free slot", z.index)
		}
	}

	var ptr unsafe.Pointer
	z.withUnmasked(func(z *zone) {
		slot := z.nextFreeSlot
		chunkAddr := z.userStart + uintptr(slot/2)*uintptr(z.chunkSize)
		if chunkAddr < z.userStart || chunkAddr+uintptr(z.chunkSize) > z.userEnd {
			abortf("isoalloc: zone %d: chunk address %#x for slot %d out of range", z.index, chunkAddr, slot)
		}

		bitmap := bitmapBytes(z)
		state := get2bit(bitmap, slot)
		if state&occupiedBit != 0 {
			abortf("isoalloc: zone %d: slot %d already marked occupied before allocation", z.index, slot)
		}
		if state&canaryBit != 0 {
			checkCanary(z, chunkAddr)
			secureZero(unsafe.Pointer(chunkAddr), CanarySize)
			secureZero(unsafe.Pointer(chunkAddr+uintptr(z.chunkSize)-CanarySize), CanarySize)
		}

		set2bit(bitmap, slot, occupiedBit)
		z.nextFreeSlot = badSlot
		ptr = unsafe.Pointer(chunkAddr)
	})
	return ptr
}

// Calloc allocates space for nmemb elements of size bytes each,
// zeroed, aborting instead of silently wrapping if nmemb*size would
// overflow.
func Calloc(nmemb, size int) unsafe.Pointer {
	if nmemb < 0 || size < 0 {
		abortf("isoalloc: Calloc(%d, %d): negative argument", nmemb, size)
	}
	if size != 0 && uint64(nmemb) > ^uint64(0)/uint64(size) {
		abortf("isoalloc: Calloc(%d, %d): nmemb*size overflows", nmemb, size)
	}
	total := nmemb * size
	ptr := Alloc(total)
	if total > 0 {
		secureZero(ptr, uintptr(total))
	}
	return ptr
}

// ChunkSize returns the usable size of the chunk p points into, or 0
// for a nil pointer. It aborts if p is not owned by this allocator.
func ChunkSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	var size int
	withRoot(func(root *rootData) {
		z := findOwningZone(root, uintptr(p))
		if z == nil {
			abortf("isoalloc: ChunkSize(%#x): pointer not owned by this allocator", uintptr(p))
		}
		size = int(z.chunkSize)
	})
	return size
}

// Free returns p's chunk to its zone for reuse. A nil pointer is a
// no-op, matching free's usual convention.
func Free(p unsafe.Pointer) {
	freeImpl(p, false)
}

// FreePermanent returns p's chunk to a permanently retired state: it
// keeps its canary and is never handed out again by Alloc, as if it
// had been a canary chunk seeded at zone creation all along. Use it
// for allocations that must never be reused even if the allocator's
// bookkeeping is later corrupted.
func FreePermanent(p unsafe.Pointer) {
	freeImpl(p, true)
}

func freeImpl(p unsafe.Pointer, permanent bool) {
	if p == nil {
		return
	}
	withRoot(func(root *rootData) {
		freeLocked(root, p, permanent)
	})
}

func freeLocked(root *rootData, p unsafe.Pointer, permanent bool) {
	addr := uintptr(p)
	z := findOwningZone(root, addr)
	if z == nil {
		abortf("isoalloc: Free(%#x): pointer not owned by this allocator", addr)
	}

	z.withUnmasked(func(z *zone) {
		offset := addr - z.userStart
		if offset%uintptr(z.chunkSize) != 0 {
			abortf("isoalloc: Free(%#x): misaligned pointer into zone %d (chunk size %d)", addr, z.index, z.chunkSize)
		}

		slot := int64(offset/uintptr(z.chunkSize)) * 2
		bitmap := bitmapBytes(z)
		state := get2bit(bitmap, slot)

		if state&occupiedBit == 0 {
			abortf("isoalloc: Free(%#x): double free in zone %d", addr, z.index)
		}
		if state&canaryBit != 0 {
			abortf("isoalloc: Free(%#x): chunk in zone %d was already permanently freed", addr, z.index)
		}

		newState := canaryBit
		if permanent {
			newState |= occupiedBit
		}
		set2bit(bitmap, slot, newState)

		fillBytes(addr, uintptr(z.chunkSize), PoisonByte)
		writeCanary(z, addr)

		if addr > z.userStart {
			prevSlot := slot - 2
			if get2bit(bitmap, prevSlot)&canaryBit != 0 {
				checkCanary(z, addr-uintptr(z.chunkSize))
			}
		}
		if addr+uintptr(z.chunkSize) < z.userEnd {
			nextSlot := slot + 2
			if get2bit(bitmap, nextSlot)&canaryBit != 0 {
				checkCanary(z, addr+uintptr(z.chunkSize))
			}
		}

		if !permanent {
			insertFreeSlot(z, slot)
		}
		z.full = false
	})
}

// Realloc resizes the allocation at p to newSize bytes, preserving the
// lesser of its old and new sizes' worth of content. Realloc(nil, n)
// behaves like Alloc(n); Realloc(p, 0) or a negative newSize behaves
// like Free(p) and returns nil. The returned pointer may differ from
// p even when newSize fits in p's existing chunk, since isoalloc never
// shrinks or grows a chunk in place.
func Realloc(p unsafe.Pointer, newSize int) unsafe.Pointer {
	if p == nil {
		return Alloc(newSize)
	}
	if newSize <= 0 {
		Free(p)
		return nil
	}

	oldSize := ChunkSize(p)
	newPtr := Alloc(newSize)

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	copyBytes(uintptr(newPtr), uintptr(p), uintptr(copySize))

	Free(p)
	return newPtr
}

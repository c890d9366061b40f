package isoalloc

import "unsafe"

// guardedAlloc reserves a page-rounded interior of read-write memory
// bracketed front and back by a single inaccessible guard page, all as
// one contiguous mapping, and returns the address of the interior
// (i.e., just past the front guard). Any linear walk off either end of
// the interior lands on a PROT_NONE page and faults immediately.
//
// A single mmap handles both guards and the interior together so the
// three pieces always end up adjacent in address space: a zone's
// bitmap, a zone's chunk storage, and the root registry itself all
// get this same treatment, each piece noticing immediately if
// anything walks off its end.
//
// Callers that need to release the mapping later recompute its bounds
// rather than have guardedAlloc return them, since those bounds are a
// deterministic function of the interior size and pageSize.
func guardedAlloc(interior uintptr) uintptr {
	rounded := pageRound(interior)
	full := rounded + 2*pageSize

	base := vmReserveRW(full)
	vmProtect(base, pageSize, protNone)
	vmProtect(unsafe.Pointer(uintptr(base)+pageSize+rounded), pageSize, protNone)

	return uintptr(base) + pageSize
}

// guardedRelease reverses guardedAlloc given the same interior size
// and the address it returned.
func guardedRelease(start uintptr, interior uintptr) {
	full := pageRound(interior) + 2*pageSize
	vmRelease(unsafe.Pointer(start-pageSize), full)
}

// guardedSeal and guardedUnseal toggle the interior's own protection,
// without touching the guard pages (which stay PROT_NONE always).
func guardedSeal(start uintptr, interior uintptr) {
	vmProtect(unsafe.Pointer(start), pageRound(interior), protNone)
}

func guardedUnseal(start uintptr, interior uintptr) {
	vmProtect(unsafe.Pointer(start), pageRound(interior), protRW)
}

package isoalloc

// Alignment is the minimum byte alignment every returned chunk honors.
// Chunk sizes are always rounded up to a multiple of this.
const Alignment = 8

// CanarySize is the width, in bytes, of a single canary value. Each
// chunk that carries a canary carries two copies of it: one at the
// start of the chunk and one CanarySize bytes before its end.
const CanarySize = 8

// ZoneUserSize is the size of the usable (non-guard) portion of a
// zone's chunk-storage mapping.
const ZoneUserSize = 4 * 1024 * 1024

// MaxZones bounds the number of zones the root registry can hold.
// It exists so the registry's backing memory can be sized once, at
// root-creation time, and never grow.
const MaxZones = 256

// BitSlotCacheSize is the number of free-chunk slots each zone caches
// for O(1) allocation before falling back to scanning its bitmap.
const BitSlotCacheSize = 64

// CanaryCountDivisor controls how many chunks in a freshly created
// zone are seeded with a canary at creation time rather than on first
// use: roughly chunkCount/CanaryCountDivisor of them, never fewer than
// one. Only zones whose chunk size is within the default size classes
// are seeded; larger zones start with no canary chunks.
const CanaryCountDivisor = 100

// WastedMultiplier bounds how oversized a zone's chunk size may be
// relative to a request before that zone is rejected as too wasteful,
// for requests above 1024 bytes.
const WastedMultiplier = 8

// PoisonByte fills a chunk's entire contents at free time, so that any
// subsequent read of freed memory observes an obviously bogus pattern
// rather than the byte sequence of whatever was last stored there.
const PoisonByte = byte(0x77)

const badSlot = int64(-1)

// DefaultZoneSizes are the chunk sizes the allocator provisions zones
// for at startup. A request that fits is rounded up to the smallest of
// these; a request larger than all of them gets its own zone sized to
// fit exactly (rounded only to Alignment).
var DefaultZoneSizes = [...]uint32{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

package isoalloc

// ZoneStats reports a snapshot of one zone. Handle identifies the zone
// without exposing its real index: it is XORed with a per-process
// secret (root.handleMask) generated once at startup, the same
// obfuscation technique zones use internally for their own pointer
// fields, applied here so a caller logging Stats() output never leaks
// the raw zone table layout.
type ZoneStats struct {
	Handle     uint64
	ChunkSize  uint32
	ChunkCount uint32
	Used       uint32
}

// Stats returns a snapshot of every live zone.
func Stats() []ZoneStats {
	var out []ZoneStats
	withRoot(func(root *rootData) {
		out = make([]ZoneStats, 0, root.used)
		for i := int32(0); i < root.used; i++ {
			z := &root.zones[i]

			var used uint32
			z.withUnmasked(func(z *zone) {
				bitmap := bitmapBytes(z)
				totalSlots := int64(z.chunkCount) * 2
				for slot := int64(0); slot < totalSlots; slot += 2 {
					st := get2bit(bitmap, slot)
					if st&occupiedBit != 0 && st&canaryBit == 0 {
						used++
					}
				}
			})

			out = append(out, ZoneStats{
				Handle:     uint64(uint32(z.index)) ^ root.handleMask,
				ChunkSize:  z.chunkSize,
				ChunkCount: z.chunkCount,
				Used:       used,
			})
		}
	})
	return out
}

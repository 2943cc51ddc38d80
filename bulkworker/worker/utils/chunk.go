package utils

// Chunk splits ids into consecutive slices of at most limit ids. The last
// slice holds the remainder. A limit below one yields a single chunk.
func Chunk(ids []int64, limit int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	if limit < 1 {
		limit = len(ids)
	}

	chunks := make([][]int64, 0, (len(ids)+limit-1)/limit)
	for len(ids) > limit {
		chunks = append(chunks, ids[:limit:limit])
		ids = ids[limit:]
	}

	// the remainder, which may be a full chunk
	return append(chunks, ids)
}

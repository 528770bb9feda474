package utils

func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DedupUint64 removes duplicates while keeping the first-seen order.
func DedupUint64(in []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(in))
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Chunk splits in into slices of at most size elements.
func Chunk[T any](in []T, size int) [][]T {
	if size <= 0 || len(in) <= size {
		if len(in) == 0 {
			return nil
		}
		return [][]T{in}
	}
	out := make([][]T, 0, (len(in)+size-1)/size)
	for start := 0; start < len(in); start += size {
		end := min(start+size, len(in))
		out = append(out, in[start:end])
	}
	return out
}

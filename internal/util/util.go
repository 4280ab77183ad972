package util

// FastEqual short-circuits equality on pointer identity and nil mismatches
// before falling back to the caller's comparison.
func FastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}

//go:build !unix

package pages

// MapPages allocates a zero-filled region of at least minBytes, rounded up
// to a whole number of OS pages. On platforms without anonymous mmap the
// region comes from the Go heap; the Go runtime never moves heap objects, so
// block addresses remain stable for the life of the mapping.
func (Source) MapPages(minBytes int) ([]byte, error) {
	return make([]byte, roundToSystemPages(minBytes)), nil
}

// UnmapPages releases a region obtained from MapPages. The fallback
// implementation leaves reclamation to the garbage collector.
func (Source) UnmapPages(mem []byte) error {
	return nil
}

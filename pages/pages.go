// Package pages maps anonymous, zero-filled, read-write memory regions from
// the operating system. Mappings are always a whole number of OS pages; the
// arena package builds its block spans on top of them.
package pages

import (
	"os"

	"github.com/rivenlang/rcheap"
)

// Source hands out anonymous page mappings. The zero value is ready to use.
type Source struct{}

// roundToSystemPages rounds n up to a whole number of OS pages. OS page
// sizes are always powers of two.
func roundToSystemPages(n int) int {
	pageSize := os.Getpagesize()
	if n < pageSize {
		return pageSize
	}
	return rcheap.AlignUp(n, uint(pageSize))
}

//go:build unix

package pages

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// MapPages maps a fresh anonymous region of at least minBytes, rounded up to
// a whole number of OS pages. The region is zero-filled and read-write.
func (Source) MapPages(minBytes int) ([]byte, error) {
	size := roundToSystemPages(minBytes)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "pages: failed to map %d bytes", size)
	}
	return mem, nil
}

// UnmapPages returns a region obtained from MapPages to the operating
// system. It must be passed the same slice MapPages returned, not a derived
// slice.
func (Source) UnmapPages(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "pages: failed to unmap region")
	}
	return nil
}

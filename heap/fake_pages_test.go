package heap_test

import "github.com/pkg/errors"

// A page source backed by ordinary Go slices, sized exactly as requested
// so test geometry stays deterministic.
type FakePageSource struct {
	FailNextMaps int
	UnmapCalls   int
}

func (s *FakePageSource) MapPages(minBytes int) ([]byte, error) {
	if s.FailNextMaps > 0 {
		s.FailNextMaps--
		return nil, errors.New("fake page source is out of memory")
	}
	return make([]byte, minBytes), nil
}

func (s *FakePageSource) UnmapPages(mem []byte) error {
	s.UnmapCalls++
	return nil
}

package arena_test

import "github.com/pkg/errors"

// A page source backed by ordinary Go slices. Mapped regions are exactly
// the requested size, which keeps block geometry deterministic, and map
// failures can be scripted.
type FakePageSource struct {
	FailNextMaps int

	MapCalls   int
	UnmapCalls int
}

func (s *FakePageSource) MapPages(minBytes int) ([]byte, error) {
	s.MapCalls++
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

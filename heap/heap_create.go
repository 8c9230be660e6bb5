package heap

import (
	"github.com/rivenlang/rcheap"
	"github.com/rivenlang/rcheap/arena"
	"github.com/rivenlang/rcheap/pages"
	"golang.org/x/exp/slog"
)

// DefaultPageSize is the span size used when none is provided via
// CreateOptions. It matches the common OS page size.
const DefaultPageSize = 4096

// CreateOptions contains optional settings when creating a Heap
type CreateOptions struct {
	// PageSize is the minimum size in bytes of the spans the heap maps from
	// its page source. It must be a power of two. When zero,
	// DefaultPageSize is used.
	PageSize int
}

// New creates a new Heap.
//
// logger - Receives the heap's structured log output. May be nil, in which
// case slog.Default() is used.
//
// source - The page source spans are mapped from. May be nil, in which case
// anonymous OS pages are used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, source arena.PageSource, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		source = pages.Source{}
	}

	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if err := rcheap.CheckPow2(uint(pageSize), "options.PageSize"); err != nil {
		return nil, err
	}

	return &Heap{
		logger:   logger,
		arena:    arena.New(source, pageSize),
		pageSize: pageSize,
	}, nil
}

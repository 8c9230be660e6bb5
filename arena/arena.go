// Package arena implements the block ledger at the core of the rcheap
// stack: an append-only, singly linked sequence of blocks carved out of
// OS-mapped spans, with a reference count per block. Allocation is first-fit
// with oversized-block splitting; a block becomes reusable when its
// reference count returns to zero. Nothing here is safe for concurrent use.
package arena

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/rivenlang/rcheap"
)

// PageSource maps and unmaps the memory regions an Arena builds its spans
// on. Implementations must return zero-filled, writable regions of at least
// the requested size; the pages package provides the OS-backed one.
type PageSource interface {
	MapPages(minBytes int) ([]byte, error)
	UnmapPages(mem []byte) error
}

// Arena owns the linked sequence of blocks and grows it when no existing
// block satisfies a request. The first allocation maps the initial span
// lazily; failure to map leaves the arena unchanged and the next allocation
// retries. Existing payload addresses are never moved or invalidated by
// growth.
type Arena struct {
	source   PageSource
	pageSize int

	head  *block
	tail  *block
	spans []*span

	// byAddr resolves a payload address back to its owning block. Blocks
	// are registered when carved and never removed before Destroy.
	byAddr *swiss.Map[Ref, *block]

	blockCount int
	allocCount int
	spanBytes  int
	destroyed  bool
}

// New creates an Arena drawing spans of at least pageSize bytes from source.
// pageSize must be a power of two; the heap package validates it before
// calling here.
func New(source PageSource, pageSize int) *Arena {
	rcheap.DebugCheckPow2(uint(pageSize), "pageSize")
	return &Arena{
		source:   source,
		pageSize: pageSize,
		byAddr:   swiss.NewMap[Ref, *block](64),
	}
}

// Alloc hands out a block with a payload capacity of at least size bytes and
// a reference count of one. A size of zero or less returns NullRef by
// definition, not as an error. Exhaustion of the page source also returns
// NullRef; the arena remains valid and a later call may succeed.
func (a *Arena) Alloc(size int) Ref {
	a.checkUsable()

	if size <= 0 {
		return NullRef
	}

	if a.head == nil && !a.mapInitialSpan() {
		return NullRef
	}

	for b := a.head; b != nil; b = b.next {
		if b.refs == 0 && b.size >= size {
			return a.take(b, size)
		}
	}

	grown := a.grow(size)
	if grown == nil {
		return NullRef
	}
	return a.take(grown, size)
}

// Copy allocates a fresh block of totalSize bytes with a reference count of
// one and fills it from src's payload. Bytes [copyLen, totalSize) are
// likewise sourced from src, not zeroed, so totalSize must not exceed src's
// payload capacity. A null src propagates unchanged.
func (a *Arena) Copy(src Ref, copyLen, totalSize int) Ref {
	a.checkUsable()

	if src.IsNull() {
		return NullRef
	}

	b := a.blockFor(src)
	if copyLen > totalSize {
		panic(fmt.Sprintf("arena: copy length %d exceeds total size %d", copyLen, totalSize))
	}
	if totalSize > b.size {
		panic(fmt.Sprintf("arena: copy of %d bytes would read past the source block's %d-byte payload", totalSize, b.size))
	}

	dst := a.Alloc(totalSize)
	if dst.IsNull() {
		return NullRef
	}

	copy(a.blockFor(dst).payload()[:totalSize], b.payload()[:totalSize])
	return dst
}

// Retain increments the reference count of the block owning ref. The caller
// must hold a live payload reference obtained from Alloc or Copy.
func (a *Arena) Retain(ref Ref) {
	a.checkUsable()
	a.blockFor(ref).refs++
}

// Release decrements the reference count of the block owning ref; reaching
// zero makes the block reusable by future allocations. A release of an
// already-free block is silently tolerated.
func (a *Arena) Release(ref Ref) {
	a.checkUsable()

	b := a.blockFor(ref)
	if b.refs == 0 {
		return
	}
	b.refs--
	if b.refs == 0 {
		a.allocCount--
	}
}

// HasOneRef reports whether ref is the sole live reference to its block.
// Callers use this to decide between in-place mutation and copying; the
// copy-on-write discipline itself lives in the caller.
func (a *Arena) HasOneRef(ref Ref) bool {
	a.checkUsable()
	return a.blockFor(ref).refs == 1
}

// PayloadBytes returns the payload region of the block owning ref. The
// slice aliases the arena's backing storage.
func (a *Arena) PayloadBytes(ref Ref) []byte {
	a.checkUsable()
	return a.blockFor(ref).payload()
}

// SpanCount returns the number of regions mapped from the page source.
func (a *Arena) SpanCount() int {
	return len(a.spans)
}

// BlockCount returns the total number of blocks carved so far, free or not.
func (a *Arena) BlockCount() int {
	return a.blockCount
}

// AllocationCount returns the number of blocks currently holding live
// references.
func (a *Arena) AllocationCount() int {
	return a.allocCount
}

// AddStatistics sums this arena's allocation statistics into stats.
func (a *Arena) AddStatistics(stats *rcheap.Statistics) {
	stats.SpanCount += len(a.spans)
	stats.SpanBytes += a.spanBytes
	stats.AllocationCount += a.allocCount
	for b := a.head; b != nil; b = b.next {
		if b.refs > 0 {
			stats.AllocationBytes += b.size
		}
	}
}

// AddDetailedStatistics sums this arena's allocation statistics, free-range
// counts and size extrema into stats.
func (a *Arena) AddDetailedStatistics(stats *rcheap.DetailedStatistics) {
	stats.SpanCount += len(a.spans)
	stats.SpanBytes += a.spanBytes
	for b := a.head; b != nil; b = b.next {
		if b.refs > 0 {
			stats.AddAllocation(b.size)
		} else {
			stats.AddFreeRange(b.size)
		}
	}
}

// VisitAllBlocks calls handleBlock once per block in arena order, free
// blocks included.
func (a *Arena) VisitAllBlocks(handleBlock func(addr Ref, size int, refs int) error) error {
	a.checkUsable()

	for b := a.head; b != nil; b = b.next {
		if err := handleBlock(b.addr(), b.size, b.refs); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs internal consistency checks on the block ledger. When
// the arena is functioning correctly it cannot return an error, but it may
// assist in diagnosing corruption.
func (a *Arena) Validate() error {
	if a.head == nil {
		if len(a.spans) != 0 {
			return errors.New("arena has mapped spans but no blocks")
		}
		if a.blockCount != 0 || a.allocCount != 0 {
			return errors.Errorf("empty arena reports %d blocks and %d allocations", a.blockCount, a.allocCount)
		}
		return nil
	}

	var blocks, live int
	spanIndex := 0
	expectedOff := 0

	for b := a.head; b != nil; b = b.next {
		if spanIndex >= len(a.spans) {
			return errors.Errorf("block at %#x belongs to no mapped span", uintptr(b.addr()))
		}
		if b.span != a.spans[spanIndex] {
			return errors.Errorf("block at %#x is out of span order", uintptr(b.addr()))
		}
		if b.off != expectedOff {
			return errors.Errorf("block at offset %d does not start where the previous block ended (%d)", b.off, expectedOff)
		}
		if b.size < 0 {
			return errors.Errorf("block at offset %d has negative size %d", b.off, b.size)
		}
		if b.refs < 0 {
			return errors.Errorf("block at offset %d has negative reference count %d", b.off, b.refs)
		}

		mapped, ok := a.byAddr.Get(b.addr())
		if !ok || mapped != b {
			return errors.Errorf("block at %#x is missing from the address index", uintptr(b.addr()))
		}

		blocks++
		if b.refs > 0 {
			live++
		}

		expectedOff = b.off + HeaderSize + b.size
		if expectedOff > len(b.span.mem) {
			return errors.Errorf("block at offset %d overruns its %d-byte span", b.off, len(b.span.mem))
		}
		if expectedOff == len(b.span.mem) {
			spanIndex++
			expectedOff = 0
		} else if b.next == nil || b.next.span != b.span {
			return errors.Errorf("span %d is not fully partitioned into blocks", spanIndex)
		}

		if b.next == nil && b != a.tail {
			return errors.New("block list ends before the recorded tail")
		}
	}

	if spanIndex != len(a.spans) {
		return errors.Errorf("only %d of %d spans are covered by the block list", spanIndex, len(a.spans))
	}
	if blocks != a.blockCount {
		return errors.Errorf("arena records %d blocks but the list holds %d", a.blockCount, blocks)
	}
	if live != a.allocCount {
		return errors.Errorf("arena records %d live allocations but the list holds %d", a.allocCount, live)
	}
	if a.byAddr.Count() != blocks {
		return errors.Errorf("address index holds %d entries for %d blocks", a.byAddr.Count(), blocks)
	}

	return nil
}

// CheckCorruption verifies the corruption-detection markers stamped into the
// reserved header region of every allocated block. Markers are only written
// when the module is built with the debug_rcheap tag; without it this method
// cannot fail.
func (a *Arena) CheckCorruption() error {
	a.checkUsable()

	for b := a.head; b != nil; b = b.next {
		if b.refs == 0 {
			continue
		}
		if !rcheap.ValidateMagicValue(b.headerPointer(), 0) {
			return errors.Errorf("memory corruption detected in the header of the block at %#x", uintptr(b.addr()))
		}
	}
	return nil
}

// Destroy unmaps every span and poisons the arena against further use. It
// refuses to tear down an arena that still holds live references; steady
// state operation never returns memory to the OS, only Destroy does.
func (a *Arena) Destroy() error {
	if a.destroyed {
		return nil
	}
	if a.allocCount > 0 {
		return errors.Errorf("arena: %d blocks still hold live references", a.allocCount)
	}

	for _, s := range a.spans {
		if err := a.source.UnmapPages(s.mem); err != nil {
			return err
		}
	}

	a.spans = nil
	a.head = nil
	a.tail = nil
	a.byAddr = nil
	a.destroyed = true
	return nil
}

func (a *Arena) checkUsable() {
	if a.destroyed {
		panic("arena: use after Destroy")
	}
}

func (a *Arena) blockFor(ref Ref) *block {
	b, ok := a.byAddr.Get(ref)
	if !ok {
		panic(fmt.Sprintf("arena: %#x is not a payload address owned by this arena", uintptr(ref)))
	}
	return b
}

// take marks b as allocated with exactly one owner, splitting off the tail
// first when b is oversized for the request.
func (a *Arena) take(b *block, size int) Ref {
	a.splitIfOversized(b, size)
	b.refs = 1
	a.allocCount++
	rcheap.WriteMagicValue(b.headerPointer(), 0)
	rcheap.DebugValidate(a)
	return b.addr()
}

// splitIfOversized carves a free block out of the tail of b when b's
// capacity is at least 2*size+HeaderSize. A smaller remainder stays absorbed
// in b as internal fragmentation.
func (a *Arena) splitIfOversized(b *block, size int) {
	if b.size < 2*size+HeaderSize {
		return
	}

	q := blockAllocator.Get().(*block)
	q.span = b.span
	q.off = b.off + HeaderSize + size
	q.size = b.size - size - HeaderSize
	q.refs = 0
	q.next = b.next

	b.next = q
	b.size = size
	if a.tail == b {
		a.tail = q
	}

	a.byAddr.Put(q.addr(), q)
	a.blockCount++
}

func (a *Arena) mapInitialSpan() bool {
	mem, err := a.source.MapPages(a.pageSize)
	if err != nil {
		return false
	}
	a.addSpan(mem)
	return true
}

// grow maps a new span large enough for a minPayload-byte block and appends
// it to the tail of the block list. On mapping failure the arena is left in
// its previous valid state.
func (a *Arena) grow(minPayload int) *block {
	want := minPayload + HeaderSize
	if want < a.pageSize {
		want = a.pageSize
	}

	mem, err := a.source.MapPages(want)
	if err != nil {
		return nil
	}
	return a.addSpan(mem)
}

func (a *Arena) addSpan(mem []byte) *block {
	s := newSpan(mem)
	a.spans = append(a.spans, s)
	a.spanBytes += len(mem)

	b := blockAllocator.Get().(*block)
	b.span = s
	b.off = 0
	b.size = len(mem) - HeaderSize
	b.refs = 0
	b.next = nil

	if a.tail == nil {
		a.head = b
	} else {
		a.tail.next = b
	}
	a.tail = b

	a.byAddr.Put(b.addr(), b)
	a.blockCount++
	return b
}

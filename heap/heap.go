// Package heap is the runtime-facing surface of the rcheap stack: the set
// of primitives compiler-generated code calls to manage non-owning,
// reference-counted values and closures. A Heap owns one arena and reports
// on it through statistics, JSON dumps and structured logging.
//
// All fallible allocation paths signal failure only through the null
// reference convention; the sole exception is releasing an already-free
// closure, which terminates the process. A Heap is not safe for
// concurrent use: callers are single-threaded by contract.
package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/rivenlang/rcheap"
	"github.com/rivenlang/rcheap/arena"
	"golang.org/x/exp/slog"
)

// Heap hands out reference-counted blocks of raw storage. Create one with
// New; the zero value is not usable.
type Heap struct {
	logger   *slog.Logger
	arena    *arena.Arena
	pageSize int
}

// Alloc returns a reference to a fresh block with a payload of at least
// size bytes and a reference count of one. A size of zero or less returns
// the null reference by definition; so does page-source exhaustion, in
// which case the caller decides whether to retry, abort, or surface an
// out-of-memory condition.
func (h *Heap) Alloc(size int) arena.Ref {
	spansBefore := h.arena.SpanCount()

	ref := h.arena.Alloc(size)

	if spans := h.arena.SpanCount(); spans > spansBefore {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "mapped a new span",
			slog.Int("requestedSize", size),
			slog.Int("spanCount", spans))
	}
	return ref
}

// Copy allocates a totalSize-byte block with a reference count of one and
// fills it from src. Bytes [copyLen, totalSize) are likewise sourced from
// src rather than zeroed, so totalSize must not exceed src's payload
// capacity. A null src, or allocation failure, yields the null reference.
func (h *Heap) Copy(src arena.Ref, copyLen, totalSize int) arena.Ref {
	return h.arena.Copy(src, copyLen, totalSize)
}

// Retain adds a reference to the block ref refers to. ref must be a live
// reference obtained from Alloc or Copy.
func (h *Heap) Retain(ref arena.Ref) {
	h.arena.Retain(ref)
}

// Release drops a reference to the block ref refers to; when the count
// reaches zero the block becomes reusable by future allocations. Redundant
// releases of an already-free block are silently tolerated.
func (h *Heap) Release(ref arena.Ref) {
	h.arena.Release(ref)
}

// HasOneRef reports whether ref is the sole live reference to its block,
// letting callers mutate in place instead of copying.
func (h *Heap) HasOneRef(ref arena.Ref) bool {
	return h.arena.HasOneRef(ref)
}

// ReleaseClosure drops a reference to a closure record, recursively
// releasing its captured values when this was the last reference. Tagged
// immediates are ignored. A double release means the reference graph is
// corrupt and terminates the process.
func (h *Heap) ReleaseClosure(v arena.Value) {
	h.arena.ReleaseClosure(v)
}

// Bytes returns the payload of the block ref refers to. The slice aliases
// the heap's backing storage and stays valid for the life of the heap.
func (h *Heap) Bytes(ref arena.Ref) []byte {
	return h.arena.PayloadBytes(ref)
}

// NewFuncDescriptor allocates a function descriptor declaring argc captured
// arguments. Descriptors back closure records for their whole lifetime and
// are never released. Returns the null reference on allocation failure.
func (h *Heap) NewFuncDescriptor(argc uint32) arena.Ref {
	desc := h.Alloc(arena.WordSize)
	if desc.IsNull() {
		return arena.NullRef
	}
	arena.PutArgCount(h.arena.PayloadBytes(desc), argc)
	return desc
}

// NewClosure allocates a closure record over desc and takes ownership of
// the captured values: word 0 holds the descriptor's address, the following
// words hold the captures, and a zero sentinel ends the list early when
// fewer captures than the descriptor declares are supplied. Returns the
// null value on allocation failure.
func (h *Heap) NewClosure(desc arena.Ref, captures ...arena.Value) (arena.Value, error) {
	if desc.IsNull() {
		return 0, errors.New("heap: a closure record requires a function descriptor")
	}

	argc := int(arena.ArgCount(h.arena.PayloadBytes(desc)))
	if len(captures) > argc {
		return 0, errors.Newf("heap: %d captures supplied for a descriptor declaring %d", len(captures), argc)
	}

	record := h.Alloc((1 + argc) * arena.WordSize)
	if record.IsNull() {
		return 0, nil
	}

	payload := h.arena.PayloadBytes(record)
	arena.PutWord(payload, 0, uintptr(desc))
	for i, captured := range captures {
		arena.PutWord(payload, i+1, uintptr(captured))
	}
	// Reused blocks are not zero-filled; the sentinel words must be
	// written explicitly.
	for i := len(captures); i < argc; i++ {
		arena.PutWord(payload, i+1, 0)
	}

	return record.Value(), nil
}

// CalculateStatistics walks the arena and returns detailed allocation and
// fragmentation numbers.
func (h *Heap) CalculateStatistics() rcheap.DetailedStatistics {
	var stats rcheap.DetailedStatistics
	stats.Clear()
	h.arena.AddDetailedStatistics(&stats)
	return stats
}

// BuildStatsString returns a JSON description of the heap: a Total object
// with aggregate statistics and an Arena object with span and block counts.
// When detailedMap is set the Arena object additionally carries a Blocks
// array describing every block in arena order.
func (h *Heap) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	h.statsJson(&writer, detailedMap)
	return string(writer.Bytes())
}

func (h *Heap) statsJson(writer *jwriter.Writer, detailedMap bool) {
	objState := writer.Object()
	defer objState.End()

	stats := h.CalculateStatistics()

	totalObj := objState.Name("Total").Object()
	totalObj.Name("SpanCount").Int(stats.SpanCount)
	totalObj.Name("SpanBytes").Int(stats.SpanBytes)
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.Name("FreeRangeCount").Int(stats.FreeRangeCount)
	totalObj.End()

	arenaObj := objState.Name("Arena").Object()
	h.arena.ArenaJsonData(&arenaObj)
	if detailedMap {
		h.arena.BlocksJsonData(&arenaObj)
	}
	arenaObj.End()
}

// Validate performs internal consistency checks on the heap's arena.
func (h *Heap) Validate() error {
	return h.arena.Validate()
}

// CheckCorruption verifies the corruption-detection markers of every
// allocated block. Markers are only written under the debug_rcheap build
// tag; without it this method cannot fail.
func (h *Heap) CheckCorruption() error {
	return h.arena.CheckCorruption()
}

// Destroy tears the heap down: every block still holding references is
// logged and aborts the teardown with an error; otherwise all spans are
// returned to the page source and the heap becomes unusable.
func (h *Heap) Destroy() error {
	if h.arena.AllocationCount() > 0 {
		_ = h.arena.VisitAllBlocks(func(addr arena.Ref, size, refs int) error {
			if refs == 0 {
				return nil
			}
			h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] block still holds live references",
				slog.Uint64("address", uint64(addr)),
				slog.Int("size", size),
				slog.Int("refs", refs))
			return nil
		})
		return errors.New("heap: some blocks were not released before the destruction of this heap")
	}

	return h.arena.Destroy()
}

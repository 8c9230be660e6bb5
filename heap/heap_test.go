package heap_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/rivenlang/rcheap"
	"github.com/rivenlang/rcheap/arena"
	"github.com/rivenlang/rcheap/heap"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func createHeap(t *testing.T) *heap.Heap {
	t.Helper()

	h, err := heap.New(testLogger(), &FakePageSource{}, heap.CreateOptions{})
	require.NoError(t, err)
	return h
}

func TestNewDefaults(t *testing.T) {
	h, err := heap.New(nil, nil, heap.CreateOptions{})
	require.NoError(t, err)

	ref := h.Alloc(100)
	require.False(t, ref.IsNull())
	require.Len(t, h.Bytes(ref), 100)

	h.Release(ref)
	require.NoError(t, h.Destroy())
}

func TestNewRejectsNonPowerOfTwoPageSize(t *testing.T) {
	_, err := heap.New(testLogger(), &FakePageSource{}, heap.CreateOptions{
		PageSize: 100,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, rcheap.PowerOfTwoError)
}

func TestAllocAndBytes(t *testing.T) {
	h := createHeap(t)

	ref := h.Alloc(64)
	require.False(t, ref.IsNull())

	payload := h.Bytes(ref)
	require.Len(t, payload, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.Equal(t, payload, h.Bytes(ref))

	require.Equal(t, arena.NullRef, h.Alloc(0))
}

func TestAllocFailureReturnsNull(t *testing.T) {
	h, err := heap.New(testLogger(), &FakePageSource{FailNextMaps: 1}, heap.CreateOptions{})
	require.NoError(t, err)

	require.Equal(t, arena.NullRef, h.Alloc(100))
	require.False(t, h.Alloc(100).IsNull())
}

func TestCopy(t *testing.T) {
	h := createHeap(t)

	src := h.Alloc(16)
	payload := h.Bytes(src)
	for i := range payload {
		payload[i] = byte(0x10 + i)
	}

	dst := h.Copy(src, 8, 16)
	require.False(t, dst.IsNull())
	require.NotEqual(t, src, dst)
	require.Equal(t, payload, h.Bytes(dst)[:16])
	require.True(t, h.HasOneRef(dst))

	require.Equal(t, arena.NullRef, h.Copy(arena.NullRef, 0, 16))
}

func TestRetainReleaseHasOneRef(t *testing.T) {
	h := createHeap(t)

	ref := h.Alloc(32)
	require.True(t, h.HasOneRef(ref))

	h.Retain(ref)
	require.False(t, h.HasOneRef(ref))

	h.Release(ref)
	require.True(t, h.HasOneRef(ref))
}

func TestNewFuncDescriptor(t *testing.T) {
	h := createHeap(t)

	desc := h.NewFuncDescriptor(3)
	require.False(t, desc.IsNull())
	require.Equal(t, uint32(3), arena.ArgCount(h.Bytes(desc)))
}

func TestNewClosureEndToEnd(t *testing.T) {
	h := createHeap(t)

	desc := h.NewFuncDescriptor(2)
	x := h.Alloc(16)
	y := h.Alloc(16)

	cl, err := h.NewClosure(desc, x.Value(), y.Value())
	require.NoError(t, err)
	require.False(t, cl.IsNull())
	require.False(t, cl.IsImmediate())

	stats := h.CalculateStatistics()
	require.Equal(t, 4, stats.AllocationCount)

	h.ReleaseClosure(cl)

	stats = h.CalculateStatistics()
	require.Equal(t, 1, stats.AllocationCount)
}

func TestNewClosureRequiresDescriptor(t *testing.T) {
	h := createHeap(t)

	_, err := h.NewClosure(arena.NullRef)
	require.Error(t, err)
}

func TestNewClosureRejectsExcessCaptures(t *testing.T) {
	h := createHeap(t)

	desc := h.NewFuncDescriptor(1)
	_, err := h.NewClosure(desc, arena.Immediate(1), arena.Immediate(2))
	require.Error(t, err)
}

func TestNewClosureZeroesUnusedCaptureSlots(t *testing.T) {
	h := createHeap(t)

	desc := h.NewFuncDescriptor(3)
	keep := h.Alloc(16)

	// Dirty a block the closure record will reuse: stale non-zero capture
	// words must not survive into the record.
	scratch := h.Alloc(4 * arena.WordSize)
	scratchPayload := h.Bytes(scratch)
	for i := 0; i < 4; i++ {
		arena.PutWord(scratchPayload, i, uintptr(keep.Value()))
	}
	h.Release(scratch)

	cl, err := h.NewClosure(desc, arena.Immediate(9))
	require.NoError(t, err)
	require.Equal(t, scratch, cl.Ref())

	h.ReleaseClosure(cl)
	require.True(t, h.HasOneRef(keep))
}

func TestClosureCapturesKeepValuesAlive(t *testing.T) {
	h := createHeap(t)

	desc := h.NewFuncDescriptor(1)
	x := h.Alloc(16)

	cl, err := h.NewClosure(desc, x.Value())
	require.NoError(t, err)

	// The caller hands its reference to the record, so the capture stays
	// at one reference until the record dies.
	require.True(t, h.HasOneRef(x))

	h.ReleaseClosure(cl)
	require.Equal(t, x, h.Alloc(16))
}

func TestCalculateStatistics(t *testing.T) {
	h := createHeap(t)

	first := h.Alloc(100)
	h.Alloc(200)
	h.Release(first)

	stats := h.CalculateStatistics()
	require.Equal(t, 1, stats.SpanCount)
	require.Equal(t, heap.DefaultPageSize, stats.SpanBytes)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 200, stats.AllocationBytes)
	require.Equal(t, 2, stats.FreeRangeCount)
	require.Equal(t, 100, stats.FreeRangeSizeMin)
}

func TestBuildStatsString(t *testing.T) {
	h := createHeap(t)

	h.Alloc(100)
	h.Alloc(200)

	str := h.BuildStatsString(false)
	require.True(t, json.Valid([]byte(str)))

	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(str), &parsed))
	require.Contains(t, parsed, "Total")
	require.Contains(t, parsed, "Arena")
	require.NotContains(t, str, "Blocks")

	detailed := h.BuildStatsString(true)
	require.True(t, json.Valid([]byte(detailed)))
	require.Contains(t, detailed, "Blocks")
}

func TestValidateAndCheckCorruption(t *testing.T) {
	h := createHeap(t)

	h.Alloc(100)
	require.NoError(t, h.Validate())
	require.NoError(t, h.CheckCorruption())
}

func TestDestroyReportsUnreleasedMemory(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf))

	source := &FakePageSource{}
	h, err := heap.New(logger, source, heap.CreateOptions{})
	require.NoError(t, err)

	ref := h.Alloc(100)
	require.Error(t, h.Destroy())
	require.Contains(t, buf.String(), "UNRELEASED MEMORY")
	require.Equal(t, 0, source.UnmapCalls)

	h.Release(ref)
	require.NoError(t, h.Destroy())
	require.Equal(t, 1, source.UnmapCalls)
}

package arena

import (
	"sync"
	"unsafe"
)

const (
	// HeaderSize is the number of bytes reserved at the front of every block,
	// before its payload. The reserved region is never handed to callers;
	// under the debug_rcheap build tag part of it is stamped with a
	// corruption-detection marker. Block geometry within a span is always
	// [off, off+HeaderSize+size), with the payload starting at
	// off+HeaderSize.
	HeaderSize = 24

	// WordSize is the size in bytes of one machine word as stored by
	// compiled code into closure records.
	WordSize = 8
)

var blockAllocator = sync.Pool{
	New: func() any {
		return &block{}
	},
}

// block is the bookkeeping record for one allocatable unit of a span. Blocks
// are created when a span is mapped or when an existing free block is split,
// and are never destroyed: once carved, a block's backing storage is
// recycled for the life of the arena.
type block struct {
	span *span
	off  int // offset of the reserved header region within the span
	size int // payload capacity in bytes, excluding the header region
	refs int // live references; 0 means free and reusable
	next *block
}

func (b *block) addr() Ref {
	return Ref(b.span.base + uintptr(b.off) + HeaderSize)
}

func (b *block) payload() []byte {
	return b.span.mem[b.off+HeaderSize : b.off+HeaderSize+b.size]
}

func (b *block) headerPointer() unsafe.Pointer {
	return unsafe.Pointer(b.span.base + uintptr(b.off))
}

// span is one mapped region obtained from the PageSource. Spans are
// append-only: the arena never unmaps one before Destroy.
type span struct {
	mem  []byte
	base uintptr
}

func newSpan(mem []byte) *span {
	return &span{
		mem:  mem,
		base: uintptr(unsafe.Pointer(&mem[0])),
	}
}

// WordAt reads the i-th machine word of a payload, as compiled code would.
func WordAt(payload []byte, i int) uintptr {
	return *(*uintptr)(unsafe.Pointer(&payload[i*WordSize]))
}

// PutWord stores a machine word into the i-th word of a payload, as compiled
// code would.
func PutWord(payload []byte, i int, word uintptr) {
	*(*uintptr)(unsafe.Pointer(&payload[i*WordSize])) = word
}

// PutArgCount stores a function descriptor's declared captured-argument
// count into the first four bytes of its payload, in the processor's native
// byte order. ReleaseClosure reads the count back through the same
// representation.
func PutArgCount(payload []byte, argc uint32) {
	*(*uint32)(unsafe.Pointer(&payload[0])) = argc
}

// ArgCount reads a function descriptor's declared captured-argument count
// back out of its payload.
func ArgCount(payload []byte) uint32 {
	return *(*uint32)(unsafe.Pointer(&payload[0]))
}

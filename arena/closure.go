package arena

import (
	"fmt"
	"os"
	"unsafe"
)

// fatalTrap terminates the process. Releasing a closure whose block is
// already free means the reference graph is corrupt; the process must not
// continue running on it.
var fatalTrap = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(134)
}

// ReleaseClosure releases one reference to a closure record, recursively
// releasing its captured values when this is the last reference. Tagged
// immediates are ignored. Releasing a record whose reference count is
// already zero is a double release and terminates the process.
//
// Recursion depth equals the depth of the capture graph; a cyclic capture
// graph recurses without bound. Cycle detection is out of scope.
func (a *Arena) ReleaseClosure(v Value) {
	a.checkUsable()

	if v.IsImmediate() {
		return
	}

	b := a.blockFor(v.Ref())
	if b.refs == 0 {
		fatalTrap("arena: double release of the closure at %#x: its block is already free", uintptr(v))
		return
	}

	if b.refs == 1 {
		a.releaseCaptures(b)
	}

	b.refs--
	if b.refs == 0 {
		a.allocCount--
	}
}

// releaseCaptures interprets b's payload as a closure record: word 0 holds
// the function descriptor's address, the descriptor's first four bytes hold
// the declared capture count, and words 1..argc hold the captured values. A
// zero word ends the capture list early; the declared count is only an upper
// bound. The scan also never reads past the payload, so a descriptor
// declaring more captures than the record holds stays inside the block.
func (a *Arena) releaseCaptures(b *block) {
	payload := b.payload()
	if len(payload) < WordSize {
		return
	}

	desc := Value(WordAt(payload, 0))
	if desc.IsNull() || desc.IsImmediate() {
		return
	}

	// Descriptors are emitted by the compiler and may live outside the
	// arena; the capture count is read directly from their address.
	argc := int(*(*uint32)(unsafe.Pointer(uintptr(desc))))

	for i := 1; i <= argc && (i+1)*WordSize <= len(payload); i++ {
		captured := Value(WordAt(payload, i))
		if captured.IsNull() {
			break
		}
		a.ReleaseClosure(captured)
	}
}

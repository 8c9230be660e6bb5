package arena

// Ref is a payload reference: the virtual address of the first payload byte
// of a block. The zero Ref is the null representation returned by failed or
// zero-sized allocations.
type Ref uintptr

// NullRef is the null representation: no value, no block.
const NullRef Ref = 0

// IsNull reports whether r is the null representation.
func (r Ref) IsNull() bool {
	return r == NullRef
}

// Value converts a payload reference into the word form compiled code stores
// into closure records.
func (r Ref) Value() Value {
	return Value(r)
}

// Value is one machine word as stored by compiled code: either a payload
// reference or a tagged immediate. A word with its lowest bit set is an
// inlined immediate rather than a heap address and must never be
// dereferenced or released.
type Value uintptr

// Immediate packs a raw scalar into a tagged non-heap Value.
func Immediate(scalar uintptr) Value {
	return Value(scalar<<1 | 1)
}

// IsImmediate reports whether v is a tagged non-heap value.
func (v Value) IsImmediate() bool {
	return v&1 != 0
}

// IsNull reports whether v is the zero word, used as the end-of-captures
// sentinel in closure records.
func (v Value) IsNull() bool {
	return v == 0
}

// Immediate unpacks the scalar from a tagged Value.
func (v Value) Immediate() uintptr {
	return uintptr(v) >> 1
}

// Ref reinterprets v as a payload reference. Only meaningful when v is
// neither null nor an immediate.
func (v Value) Ref() Ref {
	return Ref(v)
}

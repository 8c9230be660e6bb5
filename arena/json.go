package arena

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// ArenaJsonData populates a json object with summary information about this
// arena.
func (a *Arena) ArenaJsonData(json *jwriter.ObjectState) {
	json.Name("Spans").Int(len(a.spans))
	json.Name("SpanBytes").Int(a.spanBytes)
	json.Name("BlockCount").Int(a.blockCount)
	json.Name("Allocations").Int(a.allocCount)
}

// BlocksJsonData populates a json object with a Blocks array describing
// every block in arena order, free blocks included. Offsets are payload
// offsets within the owning span.
func (a *Arena) BlocksJsonData(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for b := a.head; b != nil; b = b.next {
		obj := arrayState.Object()

		obj.Name("Offset").Int(b.off + HeaderSize)
		obj.Name("Size").Int(b.size)
		obj.Name("Refs").Int(b.refs)
		obj.Name("Free").Bool(b.refs == 0)

		obj.End()
	}
}

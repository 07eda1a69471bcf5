package ledgerwal

// appendResult reports what try_append did with an incoming frame.
type appendResult int

const (
	batched appendResult = iota
	fullNeedsFlush
)

// writeBuffer is the bounded byte region batched writes accumulate in
// before they hit disk. It carries no locking of its own — the engine
// holds its single mutex across every call.
type writeBuffer struct {
	data []byte
	used int
}

func newWriteBuffer(capacity Size) *writeBuffer {
	return &writeBuffer{data: make([]byte, capacity)}
}

func (b *writeBuffer) capacity() int { return len(b.data) }

func (b *writeBuffer) isEmpty() bool { return b.used == 0 }

// tryAppend copies frame into the buffer if it fits, reporting batched.
// If it does not fit, the buffer is left untouched and fullNeedsFlush is
// returned so the caller can flush and retry.
func (b *writeBuffer) tryAppend(frame []byte) appendResult {
	if b.used+len(frame) > len(b.data) {
		return fullNeedsFlush
	}
	copy(b.data[b.used:], frame)
	b.used += len(frame)
	return batched
}

// take returns a copy of the buffered bytes and resets used to 0. The
// returned slice does not alias b.data: callers (including forwarders
// invoked after the engine's lock is released) may hold onto it across
// a subsequent tryAppend/take cycle without racing the buffer's reused
// backing array.
func (b *writeBuffer) take() []byte {
	out := make([]byte, b.used)
	copy(out, b.data[:b.used])
	b.used = 0
	return out
}

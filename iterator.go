package ledgerwal

import (
	"github.com/julianstephens/ledgerwal/internal/record"
	"github.com/julianstephens/ledgerwal/internal/segment"
)

// Reader is a lazy, finite, non-restartable sequence of decoded record
// payloads across every segment in chronological order. Construction
// snapshots the ordered segment list; segments are opened one at a time
// as iteration reaches them. Dropping a Reader before exhaustion (calling
// Close) still returns the engine to Idle.
type Reader struct {
	engine *Engine
	dir    string
	segs   []segment.SegmentRef
	next   int

	cur    *segment.Reader
	done   bool
	closed bool
}

func newReader(engine *Engine, dir string, segs []segment.SegmentRef) *Reader {
	return &Reader{engine: engine, dir: dir, segs: segs}
}

// Next advances to and returns the next record payload. It reports
// (nil, false, nil) on clean exhaustion — every segment's stream ended,
// including a torn tail on the last one — and returns to Idle mode
// automatically. A genuine decode failure (an I/O error distinct from a
// clean torn tail) is surfaced as an ErrCodec error and ends iteration
// immediately, since it means the stream can no longer be trusted. A
// length prefix that claims more bytes than remain is read as a torn
// tail, not as an error. Once Next returns ok == false (with or without an
// error) the Reader is exhausted and must not be used again; call Close
// in that case only if Next was never fully drained.
func (r *Reader) Next() (payload []byte, ok bool, err error) {
	if r.done {
		return nil, false, nil
	}

	for {
		if r.cur == nil {
			if r.next >= len(r.segs) {
				r.finish()
				return nil, false, nil
			}
			ref := r.segs[r.next]
			r.next++

			reader, err := segment.OpenReader(ref.ID, ref.Path)
			if err != nil {
				// Missing/corrupt segment: stop this segment's iteration and
				// continue with the next one, per the read-path failure policy.
				continue
			}
			r.cur = reader
		}

		segID := r.cur.ID()
		payload, ok, err := record.DecodeNext(r.cur.Reader())
		if err != nil {
			_ = r.cur.Close()
			r.cur = nil
			r.finish()
			return nil, false, wrapErr("read", ErrCodec, r.dir, segID, err)
		}
		if !ok {
			_ = r.cur.Close()
			r.cur = nil
			continue
		}
		return payload, true, nil
	}
}

// Close ends iteration early and returns the engine to Idle. Safe to call
// after natural exhaustion or multiple times.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.finish()
	return nil
}

func (r *Reader) finish() {
	if r.closed {
		return
	}
	r.closed = true
	r.done = true
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
	r.engine.finishRead()
}

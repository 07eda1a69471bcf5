package ledgerwal

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/julianstephens/ledgerwal/internal/record"
	"github.com/julianstephens/ledgerwal/internal/segment"
)

// mode is the engine's read/write exclusion tag.
type mode int

const (
	modeIdle mode = iota
	modeWriting
	modeReading
)

// forwardJob describes one byte range (one or more whole frames) that just
// reached the active segment, handed to the tail forwarder. It is
// dispatched after the engine's mutex is released so a slow or unreachable
// Kafka broker never holds up other writers waiting on the lock; the
// Write or Flush call that produced the job waits for Forward to return.
type forwardJob struct {
	segID  uint64
	offset int64
	data   []byte
}

// Engine is the durable append engine: a single mutex-guarded coordinator
// of the write buffer, the active segment, and the segment directory's
// rotation/retention bookkeeping. Every exported method is safe to call
// from multiple goroutines sharing the same Engine value.
type Engine struct {
	cfg *Config

	mu       sync.Mutex
	mode     mode
	dir      *segment.Directory
	buf      *writeBuffer
	everWrit bool

	flusherStop chan struct{}
	flusherDone chan struct{}
}

func newEngine(cfg *Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.Directory, 0o700); err != nil {
		return nil, wrapErr("open", ErrIO, cfg.Directory, 0, err)
	}

	dir, err := segment.OpenDirectory(cfg.Directory)
	if err != nil {
		return nil, wrapErr("open", ErrIO, cfg.Directory, 0, err)
	}

	e := &Engine{
		cfg:         cfg,
		dir:         dir,
		buf:         newWriteBuffer(cfg.BufferSize),
		flusherStop: make(chan struct{}),
		flusherDone: make(chan struct{}),
	}
	go e.runAutoFlush()
	return e, nil
}

// Write frames payload (already encoded by the caller's own codec) and
// appends it durably per the configured buffering/fsync semantics. In
// Reading mode the write is silently dropped — a documented contract,
// not an error.
func (e *Engine) Write(payload []byte) error {
	frame, err := record.EncodeFrame(payload)
	if err != nil {
		return wrapErr("write", ErrFrameTooLarge, e.cfg.Directory, 0, err)
	}

	var job *forwardJob
	err = e.withLock(func() error {
		j, err := e.writeLocked(frame)
		job = j
		return err
	})
	if err != nil {
		return err
	}
	e.dispatchForward(job)
	return nil
}

func (e *Engine) writeLocked(frame []byte) (*forwardJob, error) {
	if e.mode == modeReading {
		return nil, nil
	}

	active, err := e.dir.ActiveForAppend()
	if err != nil {
		return nil, wrapErr("write", ErrIO, e.cfg.Directory, 0, err)
	}

	e.cfg.Metrics.WriteObserved(len(frame))

	offsetBefore := active.Size()
	written, err := e.placeFrame(active, frame)
	if err != nil {
		return nil, wrapErr("write", ErrIO, e.cfg.Directory, active.ID(), err)
	}
	if e.mode == modeIdle {
		e.mode = modeWriting
	}
	e.everWrit = true

	var job *forwardJob
	if written != nil {
		if e.cfg.FSync {
			if err := active.FSync(); err != nil {
				return nil, wrapErr("write", ErrIO, e.cfg.Directory, active.ID(), err)
			}
			e.cfg.Metrics.FSyncObserved()
		}
		job = &forwardJob{segID: active.ID(), offset: offsetBefore, data: written}
	}

	if active.Size() >= int64(e.cfg.SegmentSize.Bytes()) {
		if err := e.rotateLocked(); err != nil {
			return job, err
		}
	}
	e.retireLocked()
	return job, nil
}

// placeFrame decides where a frame goes: bypass the buffer for oversized
// frames or when buffering is disabled, otherwise batch, draining the
// buffer to disk first if it can't hold the incoming frame. In either
// drain case, any bytes already sitting in the buffer were logically
// written before frame (they arrived on an earlier Write call under the
// same lock) and must reach the segment first, or on-disk order would
// no longer match acquisition order. It returns the bytes that actually
// reached the segment's writer this call, or nil if the frame was only
// buffered.
func (e *Engine) placeFrame(active *segment.File, frame []byte) (written []byte, err error) {
	if e.buf.capacity() == 0 || len(frame) > e.buf.capacity() {
		var drained []byte
		if !e.buf.isEmpty() {
			drained = e.buf.take()
			if err := active.Append(drained); err != nil {
				return nil, err
			}
		}
		if err := active.Append(frame); err != nil {
			return nil, err
		}
		if drained == nil {
			return frame, nil
		}
		return append(drained, frame...), nil
	}

	if res := e.buf.tryAppend(frame); res == batched {
		return nil, nil
	}

	drained := e.buf.take()
	if err := active.Append(drained); err != nil {
		return nil, err
	}
	e.buf.tryAppend(frame) // always fits: len(frame) <= capacity, buffer now empty
	return drained, nil
}

// Flush forces any buffered bytes (in the write buffer, or still held by
// the active segment's own writer after a write that bypassed the buffer)
// to the active segment file and, if configured, fsyncs it. It is a no-op
// in Reading mode, and a no-op when nothing is buffered.
func (e *Engine) Flush() error {
	var job *forwardJob
	err := e.withLock(func() error {
		j, err := e.flushLocked()
		job = j
		return err
	})
	if err != nil {
		return err
	}
	e.dispatchForward(job)
	return nil
}

func (e *Engine) flushLocked() (*forwardJob, error) {
	if e.mode == modeReading {
		return nil, nil
	}
	if e.buf.isEmpty() {
		// Frames that bypassed the write buffer may still sit in the
		// active segment's own writer; push them to the file as well.
		if e.mode != modeWriting {
			return nil, nil
		}
		active, err := e.dir.ActiveForAppend()
		if err != nil {
			return nil, wrapErr("flush", ErrIO, e.cfg.Directory, 0, err)
		}
		if err := active.Flush(); err != nil {
			return nil, wrapErr("flush", ErrIO, e.cfg.Directory, active.ID(), err)
		}
		return nil, nil
	}

	active, err := e.dir.ActiveForAppend()
	if err != nil {
		return nil, wrapErr("flush", ErrIO, e.cfg.Directory, 0, err)
	}

	offsetBefore := active.Size()
	start := time.Now()
	drained := e.buf.take()
	if err := active.Append(drained); err != nil {
		return nil, wrapErr("flush", ErrIO, e.cfg.Directory, active.ID(), err)
	}

	if e.cfg.FSync {
		err = active.FSync()
	} else {
		err = active.Flush()
	}
	if err != nil {
		return nil, wrapErr("flush", ErrIO, e.cfg.Directory, active.ID(), err)
	}
	if e.cfg.FSync {
		e.cfg.Metrics.FSyncObserved()
	}
	e.cfg.Metrics.FlushObserved(time.Since(start))
	job := &forwardJob{segID: active.ID(), offset: offsetBefore, data: drained}

	if active.Size() >= int64(e.cfg.SegmentSize.Bytes()) {
		if err := e.rotateLocked(); err != nil {
			return job, err
		}
	}
	e.retireLocked()
	return job, nil
}

// rotateLocked seals the active segment (flushing any remaining buffered
// bytes first) and opens the next one. Caller holds e.mu.
func (e *Engine) rotateLocked() error {
	if !e.buf.isEmpty() {
		active, err := e.dir.ActiveForAppend()
		if err != nil {
			return wrapErr("rotate", ErrIO, e.cfg.Directory, 0, err)
		}
		if err := active.Append(e.buf.take()); err != nil {
			return wrapErr("rotate", ErrIO, e.cfg.Directory, active.ID(), err)
		}
	}

	if _, err := e.dir.Rotate(e.cfg.FSync); err != nil {
		e.cfg.Logger.Error("segment rotation failed", err, "dir", e.cfg.Directory)
		return wrapErr("rotate", ErrIO, e.cfg.Directory, 0, err)
	}
	if e.cfg.FSync {
		e.cfg.Metrics.FSyncObserved()
	}
	e.cfg.Metrics.SegmentRotated()
	return nil
}

// retireLocked enforces the storage cap, best-effort: a failure here is
// logged and counted but never fails the write/flush that triggered it.
// Caller holds e.mu.
func (e *Engine) retireLocked() {
	if e.cfg.StorageSize == 0 {
		return
	}
	capBytes := int64(e.cfg.StorageSize.Bytes())

	deleted, errs := e.dir.RetireUntilWithinCap(capBytes, func(ref segment.SegmentRef) {
		if e.cfg.Archiver == nil {
			return
		}
		if err := e.cfg.Archiver.Archive(context.Background(), ref.ID, ref.Path); err != nil {
			e.cfg.Logger.Error("segment archive failed", err, "dir", e.cfg.Directory, "segment_id", ref.ID)
			e.cfg.Metrics.RetentionError()
		}
	})
	for i := 0; i < deleted; i++ {
		e.cfg.Metrics.SegmentRetired()
	}
	for _, err := range errs {
		e.cfg.Logger.Error("segment retention failed", err, "dir", e.cfg.Directory)
		e.cfg.Metrics.RetentionError()
	}
}

// Read returns a lazy, non-restartable iterator over every record across
// every segment, in chronological order. Only valid from Idle; fails with
// ErrAlreadyInWriteMode once the engine has ever written successfully.
func (e *Engine) Read() (*Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == modeWriting || e.everWrit {
		return nil, wrapErr("read", ErrAlreadyInWriteMode, e.cfg.Directory, 0, nil)
	}

	e.mode = modeReading
	segs := e.dir.OrderedSegments()
	return newReader(e, e.cfg.Directory, segs), nil
}

// finishRead returns the engine to Idle. Called by Reader on exhaustion
// or Close.
func (e *Engine) finishRead() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = modeIdle
}

func (e *Engine) withLock(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// dispatchForward hands a byte range that just reached the active segment
// to the configured Forwarder outside the engine's lock, so a slow or
// unreachable consumer never stalls other writers; the calling goroutine
// waits for Forward to return. Forwarding errors are logged (no metric
// counts them), never surfaced to the caller of Write/Flush.
func (e *Engine) dispatchForward(job *forwardJob) {
	if job == nil || e.cfg.Forwarder == nil {
		return
	}
	if err := e.cfg.Forwarder.Forward(context.Background(), job.segID, job.offset, job.data); err != nil {
		e.cfg.Logger.Error("tail forward failed", err, "dir", e.cfg.Directory, "segment_id", job.segID)
	}
}

func (e *Engine) runAutoFlush() {
	defer close(e.flusherDone)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.flusherStop:
			return
		case <-ticker.C:
			var job *forwardJob
			err := e.withLock(func() error {
				j, err := e.flushLocked()
				job = j
				return err
			})
			if err != nil {
				e.cfg.Logger.Error("background auto-flush failed", err, "dir", e.cfg.Directory)
				continue
			}
			e.dispatchForward(job)
		}
	}
}

// Close stops the background auto-flush worker and closes the active
// segment's file handle. It does not flush first; call Flush before
// Close to guarantee buffered bytes reach disk.
func (e *Engine) Close() error {
	close(e.flusherStop)
	<-e.flusherDone

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.dir.Close(); err != nil {
		return wrapErr("close", ErrIO, e.cfg.Directory, 0, err)
	}
	return nil
}

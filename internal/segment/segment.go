// Package segment implements the on-disk segment file and the segment
// directory that discovers, orders, creates, and retires them.
package segment

import (
	"bufio"
	"io"
	"os"

	"github.com/julianstephens/ledgerwal/internal/record"
)

// writerBufferSize amortises syscalls for the frequent small appends a
// bypassed (buffer_size == 0) writer produces; batched writers already
// hand this a few KB at a time, so the bufio layer mostly just smooths
// syscall count rather than coalescing data.
const writerBufferSize = 64 << 10 // 64KiB

// File is one append-only on-disk segment. It owns the active file handle
// exclusively; once Seal is called it must never be appended to again.
type File struct {
	id     uint64
	path   string
	file   *os.File
	writer *bufio.Writer
	size   int64
	sealed bool
	closed bool
}

// OpenFile opens an existing or newly created segment file for append,
// positioning the internal size counter at the file's current length
// (so reopening a directory with existing segments resumes correctly).
func OpenFile(id uint64, path string, file *os.File) (*File, error) {
	if file == nil {
		return nil, ErrNilFile
	}

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	return &File{
		id:     id,
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, writerBufferSize),
		size:   info.Size(),
	}, nil
}

// ID returns the segment's monotonically increasing identifier.
func (f *File) ID() uint64 { return f.id }

// Path returns the filesystem path of the segment.
func (f *File) Path() string { return f.path }

// Size returns the number of bytes appended to the segment so far,
// including bytes not yet flushed to the OS.
func (f *File) Size() int64 { return f.size }

// Sealed reports whether the segment has been rotated away from.
func (f *File) Sealed() bool { return f.sealed }

// Append writes a pre-framed byte slice to the segment. The caller holds
// the engine's lock; Append itself does no locking.
func (f *File) Append(frame []byte) error {
	if f.closed {
		return ErrClosed
	}
	n, err := f.writer.Write(frame)
	f.size += int64(n)
	if err != nil {
		return err
	}
	return nil
}

// Flush pushes buffered bytes to the OS without fsyncing.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	return f.writer.Flush()
}

// FSync flushes buffered bytes and then fsyncs the underlying file.
func (f *File) FSync() error {
	if f.closed {
		return ErrClosed
	}
	if err := f.writer.Flush(); err != nil {
		return err
	}
	return f.file.Sync()
}

// Seal flushes (and, if fsync is true, fsyncs) the segment and marks it
// immutable. Sealed segments are never reopened for append.
func (f *File) Seal(fsync bool) error {
	var err error
	if fsync {
		err = f.FSync()
	} else {
		err = f.Flush()
	}
	if err != nil {
		return err
	}
	f.sealed = true
	return nil
}

// Close flushes buffered bytes and closes the file handle.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.writer.Flush(); err != nil {
		_ = f.file.Close()
		return err
	}
	return f.file.Close()
}

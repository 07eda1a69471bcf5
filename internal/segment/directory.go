package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// nameFormat is the on-disk segment naming scheme: wal-<segment_id>.log
// with the id zero-padded to the width of a decimal uint64.
const nameFormat = "wal-%020d.log"

// ErrNoActiveSegment is returned by Rotate when called before any
// segment has been selected for append.
var ErrNoActiveSegment = errors.New("segment: no active segment")

// SegmentRef identifies one segment file without opening it.
type SegmentRef struct {
	ID   uint64
	Path string
}

type segmentInfo struct {
	id   uint64
	size int64
}

// Directory discovers, orders, creates, and retires segment files inside
// one WAL directory. It is not safe for concurrent use on its own — the
// caller (the append engine) serialises all access under its own lock.
type Directory struct {
	dir    string
	sealed []segmentInfo // ascending by id, excludes the active segment
	active *File
}

func segmentName(id uint64) string { return fmt.Sprintf(nameFormat, id) }

func parseSegmentID(name string) (uint64, bool) {
	var id uint64
	if n, err := fmt.Sscanf(name, nameFormat, &id); err != nil || n != 1 {
		return 0, false
	}
	// Sscanf doesn't require the whole string to be consumed by the format;
	// round-trip to reject names like "wal-...log.bak" that merely start
	// with a valid prefix.
	if segmentName(id) != name {
		return 0, false
	}
	return id, true
}

// OpenDirectory scans dir for segment files, ignoring anything that
// doesn't match the naming scheme, and returns a Directory with the
// discovered segments ordered ascending by id. No file is opened yet.
func OpenDirectory(dir string) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := parseSegmentID(entry.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sealed := make([]segmentInfo, 0, len(ids))
	for _, id := range ids {
		info, err := os.Stat(filepath.Join(dir, segmentName(id)))
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, segmentInfo{id: id, size: info.Size()})
	}

	return &Directory{dir: dir, sealed: sealed}, nil
}

func (d *Directory) path(id uint64) string {
	return filepath.Join(d.dir, segmentName(id))
}

// ActiveForAppend returns the segment open for append, opening the
// highest-id discovered segment (or creating segment 0 if the directory
// was empty) on first call.
func (d *Directory) ActiveForAppend() (*File, error) {
	if d.active != nil {
		return d.active, nil
	}

	var id uint64
	var flags int
	if len(d.sealed) == 0 {
		id = 0
		flags = os.O_CREATE | os.O_RDWR | os.O_EXCL
	} else {
		last := d.sealed[len(d.sealed)-1]
		id = last.id
		flags = os.O_CREATE | os.O_RDWR | os.O_APPEND
		d.sealed = d.sealed[:len(d.sealed)-1]
	}

	file, err := os.OpenFile(d.path(id), flags, 0o600) //nolint:gosec
	if err != nil {
		return nil, err
	}
	active, err := OpenFile(id, d.path(id), file)
	if err != nil {
		return nil, err
	}
	d.active = active
	return d.active, nil
}

// Rotate seals the current active segment (flushing, and fsyncing if
// fsync is true) and opens the next segment id for append.
func (d *Directory) Rotate(fsync bool) (*File, error) {
	if d.active == nil {
		return nil, ErrNoActiveSegment
	}

	if err := d.active.Seal(fsync); err != nil {
		return nil, err
	}
	d.sealed = append(d.sealed, segmentInfo{id: d.active.ID(), size: d.active.Size()})

	nextID := d.active.ID() + 1
	file, err := os.OpenFile(d.path(nextID), os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600) //nolint:gosec
	if err != nil {
		return nil, err
	}
	next, err := OpenFile(nextID, d.path(nextID), file)
	if err != nil {
		return nil, err
	}
	d.active = next
	return d.active, nil
}

// TotalSize returns the combined byte size of every segment, sealed and
// active.
func (d *Directory) TotalSize() int64 {
	var total int64
	for _, s := range d.sealed {
		total += s.size
	}
	if d.active != nil {
		total += d.active.Size()
	}
	return total
}

// RetireUntilWithinCap deletes the oldest sealed segments, lowest id
// first, until TotalSize is within cap or only the active segment
// remains. beforeDelete, if non-nil, is called with each victim before
// it is removed (e.g. to archive it) — its result is not consulted;
// retention is best-effort and a failed archive does not block deletion.
// Returns the number of segments actually deleted (counted only after a
// successful os.Remove, so a failed deletion doesn't inflate it) and any
// deletion failures (collected, not raised) so the caller can log/count
// them without failing the append that triggered retention.
func (d *Directory) RetireUntilWithinCap(cap int64, beforeDelete func(SegmentRef)) (int, []error) {
	var errs []error
	var deleted int
	for d.TotalSize() > cap && len(d.sealed) > 0 {
		victim := d.sealed[0]
		ref := SegmentRef{ID: victim.id, Path: d.path(victim.id)}

		if beforeDelete != nil {
			beforeDelete(ref)
		}

		if err := os.Remove(ref.Path); err != nil {
			errs = append(errs, err)
			break
		}
		d.sealed = d.sealed[1:]
		deleted++
	}
	return deleted, errs
}

// OrderedSegments returns a snapshot of every segment, sealed and
// active, ordered ascending by id — the order the read iterator walks.
func (d *Directory) OrderedSegments() []SegmentRef {
	refs := make([]SegmentRef, 0, len(d.sealed)+1)
	for _, s := range d.sealed {
		refs = append(refs, SegmentRef{ID: s.id, Path: d.path(s.id)})
	}
	if d.active != nil {
		refs = append(refs, SegmentRef{ID: d.active.ID(), Path: d.path(d.active.ID())})
	}
	return refs
}

// Close closes the active segment's file handle, if any.
func (d *Directory) Close() error {
	if d.active == nil {
		return nil
	}
	return d.active.Close()
}

package scan

import (
	"maps"
	"slices"

	"github.com/HackTestes/MemoryScanner/internal/pool"
)

// Matches maps each kind to the strictly ascending, duplicate-free
// byte offsets where the snapshot decoded to the target under that
// kind. Offsets are relative to the region base.
type Matches map[Kind][]uint64

// Total sums the match counts over all kinds.
func (m Matches) Total() int {
	n := 0
	for _, offs := range m {
		n += len(offs)
	}
	return n
}

// Empty reports whether no kind has any match.
func (m Matches) Empty() bool {
	return m.Total() == 0
}

// Clone returns a copy sharing the offset slices.
func (m Matches) Clone() Matches {
	return maps.Clone(m)
}

// tileJob scans the offsets of one partition tile of a snapshot.
type tileJob struct {
	buf    []byte
	target Value
	start  int
	size   int
}

// refineJob re-checks one slice of previously matched offsets against
// a fresh snapshot. The slice is owned by the worker for the duration
// of the job.
type refineJob struct {
	buf     []byte
	target  Value
	offsets []uint64
}

// Scanner runs typed searches over region snapshots on a pair of
// worker pools, one per job shape.
type Scanner struct {
	workers    int
	scanPool   *pool.Pool[tileJob, []uint64]
	refinePool *pool.Pool[refineJob, []uint64]
}

// NewScanner builds a scanner backed by pools of the given size.
func NewScanner(workers int) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		workers:    workers,
		scanPool:   pool.New[tileJob, []uint64](workers),
		refinePool: pool.New[refineJob, []uint64](workers),
	}
}

// Workers returns the tile count used to partition work.
func (s *Scanner) Workers() int {
	return s.workers
}

// Close releases the underlying pools.
func (s *Scanner) Close() {
	s.scanPool.Close()
	s.refinePool.Close()
}

// InitialScan searches the whole snapshot for every target value and
// returns the per-kind offsets. Kinds whose targets could not be
// parsed are simply absent from the targets slice; an error here means
// the pool itself failed and must be rebuilt.
func (s *Scanner) InitialScan(buf []byte, targets []Value) (Matches, error) {
	out := make(Matches)
	for _, v := range targets {
		offs, err := s.scanAll(buf, v)
		if err != nil {
			return nil, err
		}
		if len(offs) > 0 {
			out[v.Kind] = offs
		}
	}
	return out, nil
}

func (s *Scanner) scanAll(buf []byte, v Value) ([]uint64, error) {
	size := ceilDiv(len(buf), s.workers)
	for i := 0; i < s.workers; i++ {
		j := tileJob{buf: buf, target: v, start: i * size, size: size}
		if err := s.scanPool.Submit(i, scanTile, j); err != nil {
			return nil, err
		}
	}
	results, err := s.scanPool.AwaitAll()
	if err != nil {
		return nil, err
	}
	return mergeOffsets(results), nil
}

// Refine re-checks the retained offsets of every requested kind
// against a fresh snapshot. Kinds not requested, or requested without
// prior matches, are preserved unchanged.
func (s *Scanner) Refine(buf []byte, prev Matches, targets []Value) (Matches, error) {
	out := prev.Clone()
	if out == nil {
		out = make(Matches)
	}
	for _, v := range targets {
		offs := prev[v.Kind]
		if len(offs) == 0 {
			continue
		}
		kept, err := s.refineAll(buf, v, offs)
		if err != nil {
			return nil, err
		}
		if len(kept) > 0 {
			out[v.Kind] = kept
		} else {
			delete(out, v.Kind)
		}
	}
	return out, nil
}

func (s *Scanner) refineAll(buf []byte, v Value, offsets []uint64) ([]uint64, error) {
	size := ceilDiv(len(offsets), s.workers)
	for i := 0; i < s.workers; i++ {
		start := i * size
		if start > len(offsets) {
			start = len(offsets)
		}
		end := start + size
		if end > len(offsets) {
			end = len(offsets)
		}
		j := refineJob{buf: buf, target: v, offsets: offsets[start:end]}
		if err := s.refinePool.Submit(i, refineSlice, j); err != nil {
			return nil, err
		}
	}
	results, err := s.refinePool.AwaitAll()
	if err != nil {
		return nil, err
	}
	return mergeOffsets(results), nil
}

// scanTile finds every offset in the tile's extended range whose
// window decodes to the target. The tile nominally covers
// [start, start+size) but its upper end is extended by width-1 bytes
// so that matches straddling the seam with the next tile are found
// here; the resulting duplicates between adjacent tiles are removed
// after the merge.
func scanTile(j tileJob) []uint64 {
	w := j.target.Kind.Width()
	// Buffer shorter than the type, or tile start past the last legal
	// decode offset: nothing to scan.
	if len(j.buf) < w || j.start+w > len(j.buf) {
		return nil
	}
	end := j.start + j.size
	// Underflow protection for tiles smaller than the type width.
	if end < w {
		end = 0
	} else {
		end -= w
	}
	if end < j.start {
		end = j.start
	}
	// Seam extension, then clip to the last legal decode offset.
	if end+w < len(j.buf) {
		end += w - 1
	}
	if end+w >= len(j.buf) {
		end = len(j.buf) - w
	}
	var out []uint64
	// Bounds are pre-computed above; the loop upper bound is inclusive
	// of len(buf)-w, the last legal decode offset.
	for off := j.start; off <= end; off++ {
		if j.target.Matches(j.buf[off : off+w]) {
			out = append(out, uint64(off))
		}
	}
	return out
}

// refineSlice keeps the offsets whose current bytes still decode to
// the new target.
func refineSlice(j refineJob) []uint64 {
	w := j.target.Kind.Width()
	var out []uint64
	for _, off := range j.offsets {
		if int(off)+w > len(j.buf) {
			continue
		}
		if j.target.Matches(j.buf[off : int(off)+w]) {
			out = append(out, off)
		}
	}
	return out
}

// mergeOffsets concatenates per-worker results and establishes the
// canonical order: sorted ascending, duplicates removed.
func mergeOffsets(results [][]uint64) []uint64 {
	var all []uint64
	for _, r := range results {
		all = append(all, r...)
	}
	slices.Sort(all)
	return slices.Compact(all)
}

func ceilDiv(a, b int) int {
	if b < 1 {
		return a
	}
	return (a + b - 1) / b
}

// Package session holds the match state of one attached process
// across successive scans and orchestrates reads and writes through
// the ProcessMemory capability.
package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HackTestes/MemoryScanner/internal/buffer"
	"github.com/HackTestes/MemoryScanner/internal/proc"
	"github.com/HackTestes/MemoryScanner/internal/scan"
)

// Memory is the capability over the foreign address space. It is
// implemented by proc.Process and by in-memory fakes in tests.
type Memory interface {
	Regions() ([]proc.Region, error)
	Snapshot(r proc.Region, buf []byte) ([]byte, error)
	Write(r proc.Region, offset uint64, data []byte) error
	Close() error
}

// RegionMatches pairs one region with its per-kind match offsets.
// Offsets are relative to the region base; absolute addresses are
// computed on demand.
type RegionMatches struct {
	Region  proc.Region
	Matches scan.Matches
}

// AbsoluteAddresses returns region.base + offset for every offset of
// the kind, in ascending order.
func (rm RegionMatches) AbsoluteAddresses(k scan.Kind) []uintptr {
	offs := rm.Matches[k]
	out := make([]uintptr, 0, len(offs))
	for _, off := range offs {
		out = append(out, rm.Region.Base+uintptr(off))
	}
	return out
}

// State is the session lifecycle state.
type State uint8

const (
	// StateAttached: capability open, no matches retained.
	StateAttached State = iota
	// StateScanned: at least one RegionMatches retained.
	StateScanned
	// StateClosed: capability released. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StateScanned:
		return "scanned"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("session is closed")

// Session owns the open capability, the retained matches and the
// worker pools that host scan jobs. All methods are driver-side: no
// two operations ever run concurrently against one Session.
type Session struct {
	mem     Memory
	log     *zap.SugaredLogger
	bufs    *buffer.Manager
	scanner *scan.Scanner
	results []RegionMatches
	state   State
}

// New wraps an open capability into an attached session.
func New(mem Memory, log *zap.SugaredLogger) *Session {
	return &Session{
		mem:  mem,
		log:  log,
		bufs: buffer.NewManager(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Results returns the retained per-region matches in region order.
func (s *Session) Results() []RegionMatches {
	return s.results
}

// TotalCount sums the match counts over all regions and kinds.
func (s *Session) TotalCount() int {
	n := 0
	for _, rm := range s.results {
		n += rm.Matches.Total()
	}
	return n
}

// AbsoluteAddresses returns every absolute match address for the kind,
// in region order and ascending within a region.
func (s *Session) AbsoluteAddresses(k scan.Kind) []uintptr {
	var out []uintptr
	for _, rm := range s.results {
		out = append(out, rm.AbsoluteAddresses(k)...)
	}
	return out
}

// Close releases the pools and the capability. Terminal.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.results = nil
	if s.scanner != nil {
		s.scanner.Close()
		s.scanner = nil
	}
	return s.mem.Close()
}

// Summary reports what one scan or refine did.
type Summary struct {
	Regions        int // regions with at least one match
	Matches        int // total matches retained
	SkippedKinds   []scan.Kind
	DroppedRegions int // regions lost to read failures
}

// ensureScanner rebuilds the worker pools when the requested worker
// count changes, or after a worker panic tore the old pools down.
func (s *Session) ensureScanner(workers int) *scan.Scanner {
	if workers < 1 {
		workers = 1
	}
	if s.scanner == nil || s.scanner.Workers() != workers {
		if s.scanner != nil {
			s.scanner.Close()
		}
		s.scanner = scan.NewScanner(workers)
	}
	return s.scanner
}

// parseTargets parses the textual target under every requested kind.
// Kinds whose parse fails are skipped, not errors of the whole scan.
func (s *Session) parseTargets(kinds []scan.Kind, target string) ([]scan.Value, []scan.Kind) {
	var values []scan.Value
	var skipped []scan.Kind
	for _, k := range kinds {
		v, err := k.ParseValue(target)
		if err != nil {
			s.log.Warnw("skipping kind", "kind", k, "value", target, "error", err)
			skipped = append(skipped, k)
			continue
		}
		values = append(values, v)
	}
	return values, skipped
}

// NewScan replaces all retained state with the result of a fresh
// search over every writable committed region.
func (s *Session) NewScan(kinds []scan.Kind, target string, workers int) (Summary, error) {
	if s.state == StateClosed {
		return Summary{}, ErrClosed
	}
	targets, skipped := s.parseTargets(kinds, target)
	sum := Summary{SkippedKinds: skipped}

	regions, err := s.mem.Regions()
	if err != nil {
		return sum, s.fatal(err)
	}

	scanner := s.ensureScanner(workers)
	var out []RegionMatches
	for _, r := range regions {
		if len(targets) == 0 {
			break
		}
		snap, err := s.mem.Snapshot(r, s.bufs.Get(r.Length))
		if err != nil {
			if errors.Is(err, proc.ErrCapabilityLost) {
				return sum, s.fatal(err)
			}
			s.log.Debugw("region dropped", "base", fmt.Sprintf("%#x", r.Base), "error", err)
			sum.DroppedRegions++
			continue
		}
		matches, err := scanner.InitialScan(snap, targets)
		if err != nil {
			return sum, s.poolFailed(err)
		}
		if !matches.Empty() {
			out = append(out, RegionMatches{Region: r, Matches: matches})
		}
	}

	s.results = out
	s.setScanState()
	sum.Regions = len(out)
	sum.Matches = s.TotalCount()
	return sum, nil
}

// Refine narrows the retained matches: every region is re-read and,
// for each requested kind with prior matches, only offsets whose
// current bytes decode to the new target survive. Kinds absent from
// the request are preserved unchanged; regions whose re-read fails or
// whose match count reaches zero are dropped.
func (s *Session) Refine(kinds []scan.Kind, target string, workers int) (Summary, error) {
	if s.state == StateClosed {
		return Summary{}, ErrClosed
	}
	targets, skipped := s.parseTargets(kinds, target)
	sum := Summary{SkippedKinds: skipped}

	scanner := s.ensureScanner(workers)
	var out []RegionMatches
	for _, rm := range s.results {
		snap, err := s.mem.Snapshot(rm.Region, s.bufs.Get(rm.Region.Length))
		if err != nil {
			if errors.Is(err, proc.ErrCapabilityLost) {
				return sum, s.fatal(err)
			}
			s.log.Debugw("region dropped", "base", fmt.Sprintf("%#x", rm.Region.Base), "error", err)
			sum.DroppedRegions++
			continue
		}
		matches, err := scanner.Refine(snap, rm.Matches, targets)
		if err != nil {
			return sum, s.poolFailed(err)
		}
		if !matches.Empty() {
			out = append(out, RegionMatches{Region: rm.Region, Matches: matches})
		}
	}

	s.results = out
	s.setScanState()
	sum.Regions = len(out)
	sum.Matches = s.TotalCount()
	return sum, nil
}

// WriteSummary reports one write sweep.
type WriteSummary struct {
	Written int
	Failed  int
}

// WriteMatches overwrites every retained match of the kind with the
// value. Per-address failures are counted, not fatal; the sweep fails
// when no write succeeded, including when there is nothing to write.
func (s *Session) WriteMatches(k scan.Kind, value string) (WriteSummary, error) {
	if s.state == StateClosed {
		return WriteSummary{}, ErrClosed
	}
	v, err := k.ParseValue(value)
	if err != nil {
		return WriteSummary{}, err
	}
	sum := s.sweep(k, v.Bytes())
	if sum.Written == 0 {
		return sum, fmt.Errorf("%w: no write succeeded (%d failed)", proc.ErrWriteFailed, sum.Failed)
	}
	return sum, nil
}

// sweep writes the serialised value to every match address of the
// kind, in region order.
func (s *Session) sweep(k scan.Kind, data []byte) WriteSummary {
	var sum WriteSummary
	for _, rm := range s.results {
		for _, off := range rm.Matches[k] {
			if err := s.mem.Write(rm.Region, off, data); err != nil {
				s.log.Debugw("write failed", "address", fmt.Sprintf("%#x", rm.Region.Base+uintptr(off)), "error", err)
				sum.Failed++
				continue
			}
			sum.Written++
		}
	}
	return sum
}

func (s *Session) setScanState() {
	if len(s.results) > 0 {
		s.state = StateScanned
	} else {
		s.state = StateAttached
	}
}

// fatal handles capability loss: the session transitions to Closed.
func (s *Session) fatal(err error) error {
	s.log.Errorw("capability lost", "error", err)
	s.Close()
	return err
}

// poolFailed tears down the pools after a worker panic so the next
// operation rebuilds them.
func (s *Session) poolFailed(err error) error {
	if s.scanner != nil {
		s.scanner.Close()
		s.scanner = nil
	}
	return err
}

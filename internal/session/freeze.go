package session

import (
	"sync/atomic"
	"time"

	"github.com/HackTestes/MemoryScanner/internal/scan"
)

// Freeze is one background worker that repeatedly rewrites every
// retained match of a kind until stopped. The driver is the only
// writer of the stop flag; the worker only reads it.
type Freeze struct {
	stop atomic.Bool
	done chan struct{}
	ok   bool // last sweep status, written before done closes
}

// StartFreeze parses the value under the kind and spawns the freeze
// worker. The match set is copied at start: later scans do not affect
// a running freeze. Interval 0 means a tight loop. Failures within a
// cycle are logged but do not stop the loop.
func (s *Session) StartFreeze(k scan.Kind, value string, interval time.Duration) (*Freeze, error) {
	if s.state == StateClosed {
		return nil, ErrClosed
	}
	v, err := k.ParseValue(value)
	if err != nil {
		return nil, err
	}
	data := v.Bytes()

	// Snapshot of the sweep targets so the worker never aliases
	// session state.
	targets := make([]RegionMatches, len(s.results))
	copy(targets, s.results)

	f := &Freeze{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for {
			var sum WriteSummary
			for _, rm := range targets {
				for _, off := range rm.Matches[k] {
					if err := s.mem.Write(rm.Region, off, data); err != nil {
						s.log.Debugw("freeze write failed", "error", err)
						sum.Failed++
						continue
					}
					sum.Written++
				}
			}
			f.ok = sum.Written > 0
			if interval > 0 {
				time.Sleep(interval)
			}
			if f.stop.Load() {
				return
			}
		}
	}()
	return f, nil
}

// Stop signals the worker, waits for it to observe the flag on its
// next poll, and returns the status of its last sweep.
func (f *Freeze) Stop() bool {
	f.stop.Store(true)
	<-f.done
	return f.ok
}

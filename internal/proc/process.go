// Package proc mediates every access to the foreign address space:
// region enumeration through /proc/<pid>/maps, snapshots through
// process_vm_readv and writes through process_vm_writev. Regions can
// vanish or shrink between calls; every access is best-effort and
// reports failure rather than retrying.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	// ErrCapabilityLost means the target process exited or the handle
	// was revoked. Fatal for the session.
	ErrCapabilityLost = errors.New("target process is gone")

	// ErrReadFailed means a region snapshot did not transfer in full.
	ErrReadFailed = errors.New("memory read failed")

	// ErrWriteFailed means a write did not transfer the expected byte
	// count.
	ErrWriteFailed = errors.New("memory write failed")
)

// Process is an open read/write/query capability over one foreign
// address space.
type Process struct {
	pid    int
	log    *zap.SugaredLogger
	closed bool
}

// Attach opens the capability for pid. It verifies the process exists
// and that its memory map is readable; cross-process access blocked by
// the yama ptrace scope is reported with remediation instructions.
func Attach(pid int, log *zap.SugaredLogger) (*Process, error) {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(mapsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no process with pid %d", ErrCapabilityLost, pid)
		}
		return nil, fmt.Errorf("failed to open %s: %w", mapsPath, err)
	}
	f.Close()

	if pid != os.Getpid() && os.Geteuid() != 0 {
		yama, err := CheckYamaSysctl()
		if err == nil && yama != 0 {
			return nil, fmt.Errorf("yama.ptrace_scope is %d, which prevents cross-process access; "+
				"run: sudo sysctl kernel.yama.ptrace_scope=0, or use --fix-yama", yama)
		}
	}

	log.Debugw("attached", "pid", pid)
	return &Process{pid: pid, log: log}, nil
}

// Pid returns the attached process id.
func (p *Process) Pid() int {
	return p.pid
}

// Regions enumerates the committed writable regions of the target in
// ascending base-address order: no overlaps, no zero-length entries.
func (p *Process) Regions() ([]Region, error) {
	if p.closed {
		return nil, ErrCapabilityLost
	}
	mapsPath := fmt.Sprintf("/proc/%d/maps", p.pid)
	file, err := os.Open(mapsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityLost, err)
	}
	defer file.Close()

	var regions []Region
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		region, err := parseMapsLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("failed to parse maps line: %w", err)
		}
		if region.scannable() {
			regions = append(regions, region)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}
	return regions, nil
}

// Snapshot copies the whole region into buf, which must be at least
// Region.Length long. A partial transfer is ErrReadFailed.
func (p *Process) Snapshot(r Region, buf []byte) ([]byte, error) {
	if p.closed {
		return nil, ErrCapabilityLost
	}
	if uint64(len(buf)) < r.Length {
		return nil, fmt.Errorf("snapshot buffer too small: %d < %d", len(buf), r.Length)
	}
	buf = buf[:r.Length]

	local := unix.Iovec{Base: &buf[0], Len: r.Length}
	remote := unix.RemoteIovec{Base: r.Base, Len: int(r.Length)}
	n, err := unix.ProcessVMReadv(p.pid, []unix.Iovec{local}, []unix.RemoteIovec{remote}, 0)
	if err != nil {
		if err == unix.ESRCH {
			return nil, fmt.Errorf("%w: %v", ErrCapabilityLost, err)
		}
		return nil, fmt.Errorf("%w: region %#x: %v", ErrReadFailed, r.Base, err)
	}
	if uint64(n) != r.Length {
		return nil, fmt.Errorf("%w: region %#x: read %d of %d bytes", ErrReadFailed, r.Base, n, r.Length)
	}
	return buf, nil
}

// Write transfers data into the region at the given offset. A partial
// transfer is ErrWriteFailed.
func (p *Process) Write(r Region, offset uint64, data []byte) error {
	if p.closed {
		return ErrCapabilityLost
	}
	if offset+uint64(len(data)) > r.Length {
		return fmt.Errorf("%w: write of %d bytes at offset %d exceeds region %#x length %d",
			ErrWriteFailed, len(data), offset, r.Base, r.Length)
	}

	local := unix.Iovec{Base: &data[0], Len: uint64(len(data))}
	remote := unix.RemoteIovec{Base: r.Base + uintptr(offset), Len: len(data)}
	n, err := unix.ProcessVMWritev(p.pid, []unix.Iovec{local}, []unix.RemoteIovec{remote}, 0)
	if err != nil {
		if err == unix.ESRCH {
			return fmt.Errorf("%w: %v", ErrCapabilityLost, err)
		}
		return fmt.Errorf("%w: address %#x: %v", ErrWriteFailed, r.Base+uintptr(offset), err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: address %#x: wrote %d of %d bytes", ErrWriteFailed, r.Base+uintptr(offset), n, len(data))
	}
	return nil
}

// Close releases the capability. Further operations fail with
// ErrCapabilityLost.
func (p *Process) Close() error {
	p.closed = true
	return nil
}

// CheckYamaSysctl returns the value of yama.ptrace_scope.
func CheckYamaSysctl() (int, error) {
	data, err := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
	if err != nil {
		return 0, fmt.Errorf("failed to read yama.ptrace_scope: %w", err)
	}

	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse yama.ptrace_scope value: %w", err)
	}

	return value, nil
}

func setYamaSysctl(value int) error {
	return os.WriteFile("/proc/sys/kernel/yama/ptrace_scope", []byte(fmt.Sprintf("%d\n", value)), 0644)
}

// FixYamaSysctl temporarily sets yama.ptrace_scope to 0 and returns a
// cleanup function that restores the original value.
func FixYamaSysctl(log *zap.SugaredLogger) (func(), error) {
	originalValue, err := CheckYamaSysctl()
	if err != nil {
		return nil, err
	}

	if originalValue == 0 {
		return func() {}, nil
	}

	if err := setYamaSysctl(0); err != nil {
		return nil, fmt.Errorf("failed to set yama.ptrace_scope to 0: %w", err)
	}
	log.Infow("temporarily set yama.ptrace_scope to 0", "was", originalValue)

	return func() {
		if err := setYamaSysctl(originalValue); err != nil {
			log.Warnw("failed to restore yama.ptrace_scope", "value", originalValue, "error", err)
		}
	}, nil
}

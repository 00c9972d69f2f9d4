package proc

import (
	"bytes"
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// attachSelf opens the capability against the test's own process,
// which needs no ptrace privileges.
func attachSelf(t *testing.T) *Process {
	t.Helper()
	p, err := Attach(os.Getpid(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAttachMissingProcess(t *testing.T) {
	_, err := Attach(0x7fffffff, zap.NewNop().Sugar())
	require.ErrorIs(t, err, ErrCapabilityLost)
}

func TestRegionsOrderedAndDisjoint(t *testing.T) {
	p := attachSelf(t)

	regions, err := p.Regions()
	require.NoError(t, err)
	require.NotEmpty(t, regions)

	var prevEnd uintptr
	for _, r := range regions {
		require.NotZero(t, r.Length)
		require.Equal(t, PermRead|PermWrite, r.Perms&(PermRead|PermWrite), "region %#x", r.Base)
		require.GreaterOrEqual(t, r.Base, prevEnd, "regions must be ascending and disjoint")
		prevEnd = r.End()
	}
}

// regionContaining finds the writable region holding the address.
func regionContaining(t *testing.T, p *Process, addr uintptr) Region {
	t.Helper()
	regions, err := p.Regions()
	require.NoError(t, err)
	for _, r := range regions {
		if addr >= r.Base && addr < r.End() {
			return r
		}
	}
	t.Fatalf("no writable region contains %#x", addr)
	return Region{}
}

func TestSnapshotSelf(t *testing.T) {
	p := attachSelf(t)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	addr := uintptr(unsafe.Pointer(&payload[0]))
	region := regionContaining(t, p, addr)

	snap, err := p.Snapshot(region, make([]byte, region.Length))
	require.NoError(t, err)
	require.Equal(t, region.Length, uint64(len(snap)))

	off := uint64(addr - region.Base)
	require.True(t, bytes.Equal(payload, snap[off:off+uint64(len(payload))]))
	runtime.KeepAlive(payload)
}

func TestSnapshotBufferTooSmall(t *testing.T) {
	p := attachSelf(t)
	region := Region{Base: 0x1000, Length: 4096, Perms: PermRead | PermWrite}
	_, err := p.Snapshot(region, make([]byte, 16))
	require.Error(t, err)
}

func TestWriteSelf(t *testing.T) {
	p := attachSelf(t)

	target := make([]byte, 64)
	addr := uintptr(unsafe.Pointer(&target[0]))
	region := regionContaining(t, p, addr)

	off := uint64(addr - region.Base)
	err := p.Write(region, off, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, target[:4])
	runtime.KeepAlive(target)
}

func TestWriteOutOfBounds(t *testing.T) {
	p := attachSelf(t)
	region := Region{Base: 0x1000, Length: 16, Perms: PermRead | PermWrite}
	err := p.Write(region, 14, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrWriteFailed)
}

func TestClosedProcess(t *testing.T) {
	p := attachSelf(t)
	require.NoError(t, p.Close())

	_, err := p.Regions()
	require.ErrorIs(t, err, ErrCapabilityLost)
	_, err = p.Snapshot(Region{Length: 1}, make([]byte, 1))
	require.ErrorIs(t, err, ErrCapabilityLost)
	err = p.Write(Region{Length: 8}, 0, []byte{1})
	require.ErrorIs(t, err, ErrCapabilityLost)
}

//go:build linux

package coverage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ShmEnvVar is the environment variable the fuzzer exports to the target
// so its fork-server bootstrap can attach the same shared-memory segment.
const ShmEnvVar = "__AFL_SHM_ID"

// shmMap is a Map backed by a SysV shared-memory segment, attached
// read/write by both the fuzzer and the target. The fuzzer is the owner:
// it creates the segment, marks it for destruction so the kernel reclaims
// it once every attaching process has detached (including on a crash),
// and detaches its own mapping on Close.
type shmMap struct {
	id  int
	buf []byte
}

// NewSharedMap allocates a new MapSize-byte SysV shared-memory segment
// and attaches it into this process. The returned shmID should be
// exported to the target via ShmEnvVar before the target is exec'd.
func NewSharedMap() (m Map, shmID int, err error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, MapSize, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		return nil, 0, fmt.Errorf("shmget: %w", err)
	}

	buf, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, 0, fmt.Errorf("shmat: %w", err)
	}

	// Mark the segment for destruction now: the kernel deletes it once
	// the last attached process (fuzzer and target both) detaches,
	// including on an unclean exit, so no segment leaks across runs.
	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		unix.SysvShmDetach(buf)
		return nil, 0, fmt.Errorf("shmctl(IPC_RMID): %w", err)
	}

	return &shmMap{id: id, buf: buf}, id, nil
}

func (m *shmMap) Bytes() []byte { return m.buf }

func (m *shmMap) Reset() { clear(m.buf) }

func (m *shmMap) Close() error {
	if m.buf == nil {
		return nil
	}
	err := unix.SysvShmDetach(m.buf)
	m.buf = nil
	return err
}

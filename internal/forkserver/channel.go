// Package forkserver implements the handshake and per-execution
// request/response protocol between the fuzzer and the target's
// long-lived fork-server child.
package forkserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/kodaed/lop/internal/logger"
)

// ctlChildFD and stChildFD are the fds the target's fork-server
// bootstrap expects its control-read and status-write ends on. This is
// a fixed part of the wire ABI, not a configurable value.
const (
	ctlChildFD = 198
	stChildFD  = 199
)

// Status codes derived from the wait-status of a single execution.
const (
	// StatusTimeout is reserved for an execution killed by the fuzzer's
	// own timer or the fork-server's alarm.
	StatusTimeout = 9
)

// state is the fuzzer-side protocol state machine.
type state int

const (
	stateUninit state = iota
	stateHandshaked
	stateAwaitingPID
	stateAwaitingStatus
)

// ProtocolError is returned for any short read, pipe EOF, or other
// deviation from the documented wire protocol. It is always fatal.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("fork-server protocol violation at %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// frameResult is one 4-byte frame read off the status pipe, or the error
// that ended the stream.
type frameResult struct {
	buf [4]byte
	err error
}

// Channel owns the control/status pipe pair and the long-lived
// fork-server child process.
type Channel struct {
	cmd      *exec.Cmd
	ctlWrite *os.File // fuzzer writes, fork-server reads on fd 198
	stRead   *os.File // fork-server writes on fd 199, fuzzer reads
	devNull  *os.File
	state    state
	frames   chan frameResult
}

// Start spawns the fork-server child for target (with targetArgs),
// exports the shared-memory id via coverage.ShmEnvVar, and performs the
// 4-byte startup handshake. A failed handshake is always fatal.
func Start(target string, targetArgs []string, shmEnvVar string, shmID int) (*Channel, error) {
	ctlRead, ctlWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("forkserver: control pipe: %w", err)
	}
	stRead, stWrite, err := os.Pipe()
	if err != nil {
		ctlRead.Close()
		ctlWrite.Close()
		return nil, fmt.Errorf("forkserver: status pipe: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("forkserver: open %s: %w", os.DevNull, err)
	}

	cmd := exec.Command(target, targetArgs...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", shmEnvVar, shmID))

	// ExtraFiles[i] becomes fd 3+i in the child, so to land ctlRead on
	// fd 198 and stWrite on fd 199 we have to pad the slice with a
	// throwaway descriptor for every fd in between.
	extra := make([]*os.File, stChildFD-3+1)
	for i := range extra {
		extra[i] = devNull
	}
	extra[ctlChildFD-3] = ctlRead
	extra[stChildFD-3] = stWrite
	cmd.ExtraFiles = extra

	if err := cmd.Start(); err != nil {
		ctlRead.Close()
		ctlWrite.Close()
		stRead.Close()
		stWrite.Close()
		devNull.Close()
		return nil, fmt.Errorf("forkserver: start target: %w", err)
	}

	// The child has its own copies of these now; close the fuzzer's.
	ctlRead.Close()
	stWrite.Close()

	c := &Channel{
		cmd:      cmd,
		ctlWrite: ctlWrite,
		stRead:   stRead,
		devNull:  devNull,
		state:    stateUninit,
		frames:   make(chan frameResult, 1),
	}
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// readLoop is the sole reader of stRead for the lifetime of the channel.
// It forwards each 4-byte frame (or the error that ended the stream) over
// frames in order; frames holds one unclaimed frame, so once a second
// frame has been read the loop blocks until the first is claimed. Keeping exactly one reader means a caller that
// gives up on a read after a timeout can safely hand the wait back to
// this same goroutine instead of racing a fresh reader against it.
func (c *Channel) readLoop() {
	for {
		var buf [4]byte
		_, err := io.ReadFull(c.stRead, buf[:])
		c.frames <- frameResult{buf: buf, err: err}
		if err != nil {
			return
		}
	}
}

func (c *Channel) handshake() error {
	if _, err := c.recvFrame("handshake"); err != nil {
		return err
	}
	c.state = stateHandshaked
	logger.Debug("fork-server handshake complete")
	return nil
}

// Result holds the outcome of one execution.
type Result struct {
	Status  int
	Elapsed time.Duration
}

// Run performs one request/response cycle: write the 4-byte wake signal,
// read back the child pid and wait-status, and derive a single status
// code (terminating signal if any, else exit code; 9 means timeout).
// If timeout is nonzero and a read doesn't complete within it, Run kills
// the pid (waiting for it to arrive first if the pid read itself is what
// timed out) and drains the frame the fork-server still owes the channel
// for that execution, so the next Run starts back in sync.
func (c *Channel) Run(timeout time.Duration) (Result, error) {
	if c.state != stateHandshaked {
		return Result{}, &ProtocolError{Stage: "run", Err: fmt.Errorf("channel not in handshaked state")}
	}

	start := time.Now()

	var req [4]byte
	if _, err := c.ctlWrite.Write(req[:]); err != nil {
		return Result{}, &ProtocolError{Stage: "write control", Err: err}
	}
	c.state = stateAwaitingPID

	pidBuf, timedOut, err := c.readFrame(timeout, "pid")
	if err != nil {
		return Result{}, err
	}
	if timedOut {
		// The pid read itself is what's stuck. We can't kill what we
		// don't know yet, so block on the same in-flight read until the
		// fork-server finally delivers the pid (it writes this right
		// after forking, so in practice this is bounded), then kill it
		// and drain the wait-status frame the fork-server still owes us
		// once that kill lets its wait() return.
		pidBuf, err = c.recvFrame("pid")
		if err != nil {
			return Result{}, err
		}
		killAndReap(int32(binary.NativeEndian.Uint32(pidBuf[:])))
		if _, err := c.recvFrame("wait-status (drain after pid timeout)"); err != nil {
			return Result{}, err
		}
		c.state = stateHandshaked
		return Result{Status: StatusTimeout, Elapsed: time.Since(start)}, nil
	}
	pid := int32(binary.NativeEndian.Uint32(pidBuf[:]))
	c.state = stateAwaitingStatus

	statusBuf, timedOut, err := c.readFrame(timeout, "wait-status")
	if err != nil {
		return Result{}, err
	}
	if timedOut {
		killAndReap(pid)
		if _, err := c.recvFrame("wait-status (drain)"); err != nil {
			return Result{}, err
		}
		c.state = stateHandshaked
		return Result{Status: StatusTimeout, Elapsed: time.Since(start)}, nil
	}
	c.state = stateHandshaked

	return Result{
		Status:  decodeStatus(binary.NativeEndian.Uint32(statusBuf[:])),
		Elapsed: time.Since(start),
	}, nil
}

// recvFrame waits, unbounded, for the next frame the read loop delivers.
func (c *Channel) recvFrame(stage string) ([4]byte, error) {
	f := <-c.frames
	if f.err != nil {
		return f.buf, &ProtocolError{Stage: stage, Err: f.err}
	}
	return f.buf, nil
}

// readFrame waits up to timeout for the next frame. It never starts a
// read of its own (the channel's single readLoop goroutine owns stRead
// for the channel's whole lifetime), so on expiry the read stays pending
// and a later recvFrame call can still claim the very same frame once it
// arrives, instead of two readers racing over the pipe.
func (c *Channel) readFrame(timeout time.Duration, stage string) (buf [4]byte, timedOut bool, err error) {
	if timeout <= 0 {
		buf, err = c.recvFrame(stage)
		return buf, false, err
	}

	select {
	case f := <-c.frames:
		if f.err != nil {
			return f.buf, false, &ProtocolError{Stage: stage, Err: f.err}
		}
		return f.buf, false, nil
	case <-time.After(timeout):
		return buf, true, nil
	}
}

// Close tears down the channel and reaps the fork-server child.
func (c *Channel) Close() error {
	c.ctlWrite.Close()
	c.stRead.Close()
	c.devNull.Close()
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}
	return nil
}

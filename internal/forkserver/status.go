package forkserver

import "syscall"

// decodeStatus turns a raw wait-status word (as reported by the
// fork-server, in the same encoding the kernel gives wait4) into a
// single status code: the terminating signal number if the child died
// from a signal, otherwise its exit code.
func decodeStatus(raw uint32) int {
	ws := syscall.WaitStatus(raw)
	if ws.Signaled() {
		return int(ws.Signal())
	}
	return ws.ExitStatus()
}

// killAndReap is best-effort cleanup for a run the fuzzer gave up
// waiting on: send SIGKILL and reap so the process doesn't linger as a
// zombie. Errors are ignored; the process may already have exited on
// its own.
func killAndReap(pid int32) {
	if pid <= 0 {
		return
	}
	p := int(pid)
	syscall.Kill(p, syscall.SIGKILL)
	var ws syscall.WaitStatus
	syscall.Wait4(p, &ws, 0, nil)
}

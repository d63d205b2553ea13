package supervisor

import "syscall"

// Signals used by Stop and Execute
const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

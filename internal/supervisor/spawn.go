//go:build linux

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// child holds the pid of a started program and the parent ends of its
// three standard stream pipes.
type child struct {
	pid    int
	stdin  int
	stdout int
	stderr int
}

// spawn starts cmd with fresh pipes on fds 0, 1 and 2. Every pipe is opened
// close-on-exec, so descriptors belonging to other runs never leak into the
// child. The parent ends come back non-blocking.
//
// syscall.ForkExec reports an exec failure through its own close-on-exec
// pipe and collects the failed child before returning, so an error here
// leaves nothing to reap.
func spawn(cmd Command) (child, error) {
	path, err := cmd.path()
	if err != nil {
		return child{}, err
	}

	var pipes [3][2]int
	opened := 0
	closeAll := func() {
		for i := 0; i < opened; i++ {
			unix.Close(pipes[i][0])
			unix.Close(pipes[i][1])
		}
	}
	for i := range pipes {
		if err := unix.Pipe2(pipes[i][:], unix.O_CLOEXEC); err != nil {
			closeAll()
			return child{}, fmt.Errorf("creating pipe: %w", err)
		}
		opened++
	}

	c := child{stdin: pipes[0][1], stdout: pipes[1][0], stderr: pipes[2][0]}
	for _, fd := range []int{c.stdin, c.stdout, c.stderr} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeAll()
			return child{}, fmt.Errorf("setting fd %d non-blocking: %w", fd, err)
		}
	}

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	pid, err := syscall.ForkExec(path, cmd.Args, &syscall.ProcAttr{
		Dir:   cmd.Dir,
		Env:   env,
		Files: []uintptr{uintptr(pipes[0][0]), uintptr(pipes[1][1]), uintptr(pipes[2][1])},
	})

	unix.Close(pipes[0][0])
	unix.Close(pipes[1][1])
	unix.Close(pipes[2][1])
	if err != nil {
		unix.Close(c.stdin)
		unix.Close(c.stdout)
		unix.Close(c.stderr)
		return child{}, err
	}

	c.pid = pid
	return c, nil
}

// waitBlocking collects pid, retrying on EINTR.
func waitBlocking(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return status, err
	}
}

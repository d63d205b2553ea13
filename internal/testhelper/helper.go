// Package testhelper is a scripted child process for tests. A test binary
// re-executes itself with EnvVar set; TestMain then hands control to Main,
// which obeys commands read from stdin.
//
// Wire format: a 3-byte opcode, followed for "out" and "err" by a
// little-endian int32 length and that many payload bytes, and for "xit" by
// a little-endian int32 exit code. "abt" takes no argument.
package testhelper

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"syscall"
	"time"
)

// EnvVar marks a process as the helper child.
const EnvVar = "PROCIO_TEST_HELPER"

// Opcodes
const (
	OpStdout = "out"
	OpStderr = "err"
	OpExit   = "xit"
	OpAbort  = "abt"
)

// Ready is the first line the helper prints on stdout.
const Ready = "helper: ready\n"

// IsHelper reports whether this process was started as the helper child.
func IsHelper() bool {
	return os.Getenv(EnvVar) == "1"
}

// Main runs the helper on the process's standard streams and exits.
func Main() {
	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr))
}

// Argv returns the argument vector that re-executes the current binary.
func Argv() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe}
}

// Env returns the current environment with EnvVar set.
func Env() []string {
	return append(os.Environ(), EnvVar+"=1")
}

// Run interprets commands from in until end of file, which exits 0. It
// returns the exit code requested by "xit".
func Run(in io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprint(stdout, Ready)

	r := bufio.NewReader(in)
	for {
		var op [3]byte
		if _, err := io.ReadFull(r, op[:]); err != nil {
			return 0
		}

		switch string(op[:]) {
		case OpStdout, OpStderr:
			n, err := readInt32(r)
			if err != nil || n < 0 {
				fmt.Fprintf(stderr, "helper: bad length: %v\n", err)
				return 2
			}
			payload := make([]byte, n+1)
			if _, err := io.ReadFull(r, payload[:n]); err != nil {
				fmt.Fprintf(stderr, "helper: short payload: %v\n", err)
				return 2
			}
			payload[n] = '\n'
			w := stdout
			if string(op[:]) == OpStderr {
				w = stderr
			}
			if _, err := w.Write(payload); err != nil {
				return 3
			}
		case OpExit:
			code, err := readInt32(r)
			if err != nil {
				fmt.Fprintf(stderr, "helper: bad exit code: %v\n", err)
				return 2
			}
			fmt.Fprintf(stdout, "helper: exit with code %d\n", code)
			return int(code)
		case OpAbort:
			abort()
		default:
			fmt.Fprintf(stderr, "helper: unknown command %q\n", op[:])
			return 2
		}
	}
}

// abort makes the process die by SIGABRT. The Go runtime catches SIGABRT,
// and only re-raises it with the default action at traceback level crash.
func abort() {
	debug.SetTraceback("crash")
	syscall.Kill(os.Getpid(), syscall.SIGABRT)
	time.Sleep(time.Minute)
	os.Exit(134)
}

func readInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

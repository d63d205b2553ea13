package integration

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	binPath   string
	buildErr  error
	buildOut  []byte
)

// projectRoot returns the module root, two directories up from test/integration
func projectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	return filepath.Join(wd, "..", "..")
}

// buildBinary builds the procio binary once per test run and returns its path
func buildBinary(t *testing.T) string {
	t.Helper()

	root := projectRoot(t)
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "procio-integration")
		if err != nil {
			buildErr = err
			return
		}
		binPath = filepath.Join(dir, "procio")

		cmd := exec.Command("go", "build", "-o", binPath, "./cmd/procio")
		cmd.Dir = root
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("failed to build binary: %v\n%s", buildErr, buildOut)
	}
	return binPath
}

// result is a finished procio invocation
type result struct {
	code   int
	stdout string
	stderr string
}

// runProcio runs the binary to completion from the project root
func runProcio(t *testing.T, binary string, stdin io.Reader, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(binary, args...)
	cmd.Dir = projectRoot(t)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("failed to run procio: %v", err)
	}
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// startProcio starts the binary without waiting for it
func startProcio(t *testing.T, binary string, stdout io.Writer, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Dir = projectRoot(t)
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start procio: %v", err)
	}
	return cmd
}

// killProcio forcefully kills the procio process
func killProcio(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// configPath returns the path to a test config, relative to the project root
func configPath(name string) string {
	return fmt.Sprintf("testdata/configs/%s.yaml", name)
}

// skipShort skips the test if -short flag is provided
func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

//go:build linux

package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/procio/internal/domain"
)

const batchConfig = `
jobs:
  greet: echo one; echo two
  oops: echo broken >&2; exit 2
  feed:
    cmd: [cat]
    input: "fed through stdin\n"
  quiet:
    cmd: echo hidden; echo shown >&2
    stdout: discard
  envy:
    cmd: echo $FLAVOR
    env:
      FLAVOR: vanilla
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func decodeReports(t *testing.T, out string) []jobReport {
	t.Helper()
	var reports []jobReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports), out)
	return reports
}

func lines(entries []domain.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Line)
	}
	return out
}

func TestBatch_Text(t *testing.T) {
	path := writeConfig(t, batchConfig)

	code, stdout, _ := runCLI(t, context.Background(), "", "batch", "-c", path, "greet", "oops")
	assert.Equal(t, 1, code)

	assert.Contains(t, stdout, "greet | one\ngreet | two\n")
	assert.Contains(t, stdout, "oops  ! broken\n")
	assert.Contains(t, stdout, "JOB")
	assert.Regexp(t, `greet\s+0\s+\S+\s+ok`, stdout)
	assert.Regexp(t, `oops\s+2\s+\S+\s+failed`, stdout)
}

func TestBatch_JSON(t *testing.T) {
	path := writeConfig(t, batchConfig)

	code, stdout, _ := runCLI(t, context.Background(), "", "batch", "-c", path, "--json")
	assert.Equal(t, 1, code)

	reports := decodeReports(t, stdout)
	require.Len(t, reports, 5)

	byJob := make(map[string]jobReport)
	var order []string
	for _, r := range reports {
		byJob[r.Job] = r
		order = append(order, r.Job)
	}
	assert.Equal(t, []string{"greet", "oops", "feed", "quiet", "envy"}, order)

	assert.True(t, byJob["greet"].Launched)
	assert.Equal(t, 0, byJob["greet"].ExitCode)
	assert.Equal(t, []string{"one", "two"}, lines(byJob["greet"].Tail))

	assert.Equal(t, 2, byJob["oops"].ReturnCode)
	assert.Equal(t, domain.StreamStderr, byJob["oops"].Tail[0].Stream)

	assert.Equal(t, []string{"fed through stdin"}, lines(byJob["feed"].Tail))
	assert.Equal(t, uint64(len("fed through stdin\n")), byJob["feed"].InputBytes)

	assert.Equal(t, []string{"shown"}, lines(byJob["quiet"].Tail))
	assert.Equal(t, []string{"vanilla"}, lines(byJob["envy"].Tail))
}

func TestBatch_Filtering(t *testing.T) {
	path := writeConfig(t, `
jobs:
  count: for i in 1 2 3 4 5 6; do echo line $i; done; echo err >&2
`)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"tail", []string{"--tail", "2", "--stream", "stdout"}, []string{"line 5", "line 6"}},
		{"grep", []string{"--grep", "line 3"}, []string{"line 3"}},
		{"regex", []string{"--grep", `line [25]`, "--regex"}, []string{"line 2", "line 5"}},
		{"stream", []string{"--stream", "stderr"}, []string{"err"}},
		{"no tail", []string{"--tail", "0"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"batch", "-c", path, "--json"}, tt.args...)
			code, stdout, _ := runCLI(t, context.Background(), "", args...)
			require.Equal(t, 0, code)

			reports := decodeReports(t, stdout)
			require.Len(t, reports, 1)
			assert.Equal(t, tt.want, lines(reports[0].Tail))
		})
	}
}

func TestBatch_Follow(t *testing.T) {
	path := writeConfig(t, batchConfig)

	code, stdout, _ := runCLI(t, context.Background(), "", "batch", "-c", path, "--follow", "greet", "feed")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "greet | one\ngreet | two\n")
	assert.Contains(t, stdout, "feed  | fed through stdin\n")
}

func TestBatch_Timeout(t *testing.T) {
	path := writeConfig(t, `
jobs:
  slow:
    cmd: [sleep, "30"]
    timeout: 200ms
  after: echo still runs
`)

	start := time.Now()
	code, stdout, _ := runCLI(t, context.Background(), "", "batch", "-c", path, "--json")
	assert.Equal(t, 1, code)
	assert.Less(t, time.Since(start), 10*time.Second)

	reports := decodeReports(t, stdout)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].TimedOut)
	assert.True(t, reports[0].Signaled)
	assert.Equal(t, 15, reports[0].ReturnCode)
	assert.Equal(t, 0, reports[1].ExitCode)
}

func TestBatch_InterruptSkipsRemainingJobs(t *testing.T) {
	path := writeConfig(t, `
jobs:
  slow:
    cmd: [sleep, "30"]
  never: echo never
`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	code, stdout, _ := runCLI(t, ctx, "", "batch", "-c", path, "--json")
	assert.Equal(t, 1, code)

	reports := decodeReports(t, stdout)
	require.Len(t, reports, 1)
	assert.Equal(t, "slow", reports[0].Job)
	assert.False(t, reports[0].TimedOut)
	assert.True(t, reports[0].Signaled)
}

func TestBatch_SpawnFailure(t *testing.T) {
	path := writeConfig(t, `
jobs:
  missing:
    cmd: [/nonexistent/procio-test]
`)

	code, stdout, _ := runCLI(t, context.Background(), "", "batch", "-c", path, "--json")
	assert.Equal(t, 1, code)

	reports := decodeReports(t, stdout)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Launched)
	assert.Equal(t, 127, reports[0].ExitCode)
	assert.Equal(t, domain.ErrCodeSpawn, reports[0].ErrorCode)
	assert.Contains(t, reports[0].Error, "/nonexistent/procio-test")
}

func TestBatch_Errors(t *testing.T) {
	path := writeConfig(t, batchConfig)

	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{"unknown job", []string{"batch", "-c", path, "nope"}, "job not found: nope"},
		{"bad regex", []string{"batch", "-c", path, "--grep", "(", "--regex"}, "invalid"},
		{"bad stream", []string{"batch", "-c", path, "--stream", "stdin"}, "stdin"},
		{"negative tail", []string{"batch", "-c", path, "--tail", "-1"}, "--tail"},
		{"follow with json", []string{"batch", "-c", path, "--follow", "--json"}, "cannot be combined"},
		{"missing file", []string{"batch", "-c", "/nonexistent/procio.yaml"}, "config file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, context.Background(), "", tt.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, tt.wantStderr)
		})
	}
}

func TestBatch_FindsConfigFile(t *testing.T) {
	dir := filepath.Dir(writeConfig(t, "jobs:\n  hello: echo hello\n"))
	chdir(t, dir)

	code, stdout, _ := runCLI(t, context.Background(), "", "batch")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "hello | hello\n")

	chdir(t, t.TempDir())
	code, _, stderr := runCLI(t, context.Background(), "", "batch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "config file not found")
}

func TestJobNames(t *testing.T) {
	path := writeConfig(t, batchConfig)
	assert.Equal(t, []string{"greet", "oops", "feed", "quiet", "envy"}, jobNames(path))
	assert.Nil(t, jobNames("/nonexistent/procio.yaml"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{15 * time.Millisecond, "15ms"},
		{1500 * time.Millisecond, "1.5s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m30s"},
		{2*time.Minute + 10*time.Second, "2m10s"},
		{2*time.Minute + 10*time.Second + 900*time.Millisecond, "2m10s"},
		{time.Hour + 5*time.Minute, "1h5m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

// chdir changes the working directory for the rest of the test and restores
// it on cleanup (stand-in for testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/procio/internal/config"
	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
	"github.com/charliek/procio/internal/logs"
	"github.com/charliek/procio/internal/stream"
	"github.com/charliek/procio/internal/supervisor"
)

type runOptions struct {
	envFile       string
	env           []string
	dir           string
	prefix        bool
	discardStdout bool
	discardStderr bool
	chunkSize     int
	grace         time.Duration
}

func newRunCmd(g *globals) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] [--] command [args...]",
		Short: "Run a command with our standard streams attached",
		Long: `Run a command as a child process. Our stdin is forwarded to it and its
stdout and stderr are copied to ours. procio exits with the command's exit
code, or 128+N when it was killed by signal N.

The command is executed directly, not through a shell.

Examples:
  procio run -- sort -u
  procio run --prefix -e GREETING=hi -- sh -c 'echo $GREETING; echo oops >&2'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), g.logger, opts, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.StringVar(&opts.envFile, "env-file", "", "Load environment variables from a .env file")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "Set an environment variable (KEY=VALUE, repeatable)")
	f.StringVar(&opts.dir, "dir", "", "Working directory for the command")
	f.BoolVar(&opts.prefix, "prefix", false, "Prefix every output line with its stream name")
	f.BoolVar(&opts.discardStdout, "discard-stdout", false, "Drop the command's stdout")
	f.BoolVar(&opts.discardStderr, "discard-stderr", false, "Drop the command's stderr")
	f.IntVar(&opts.chunkSize, "chunk-size", constants.DefaultReadChunkSize, "Largest single read from the command's output")
	f.DurationVar(&opts.grace, "grace", constants.DefaultStopGrace, "Time between SIGTERM and SIGKILL when interrupted")
	return cmd
}

func runCommand(ctx context.Context, logger *slog.Logger, opts runOptions, args []string, in io.Reader, out, errOut io.Writer) error {
	if opts.chunkSize < constants.MinReadChunkSize || opts.chunkSize > constants.MaxReadChunkSize {
		return fmt.Errorf("%w: --chunk-size must be between %d and %d",
			domain.ErrInvalidConfig, constants.MinReadChunkSize, constants.MaxReadChunkSize)
	}
	env, err := commandEnv(opts.envFile, opts.env)
	if err != nil {
		return err
	}
	cmd := supervisor.Command{Args: args, Env: env, Dir: opts.dir}

	sup, err := supervisor.New(supervisor.WithLogger(logger), supervisor.WithChunkSize(opts.chunkSize))
	if err != nil {
		return err
	}
	defer sup.Close()

	stdout := outputSink(domain.StreamStdout, out, opts.prefix, opts.discardStdout)
	stderr := outputSink(domain.StreamStderr, errOut, opts.prefix, opts.discardStderr)
	if err := sup.Run(cmd, nil, stdout, stderr); err != nil {
		return err
	}
	go forwardInput(ctx, logger, sup.StdIn(), in)

	if err := sup.WaitTerminationContext(ctx); err != nil {
		logger.Debug("interrupted, stopping command", "pid", sup.ChildPid(), "grace", opts.grace)
		stopCtx, cancel := context.WithTimeout(context.Background(), opts.grace)
		defer cancel()
		_ = sup.Stop(stopCtx)
	}

	result, _ := sup.Result()
	logger.Debug("command finished", "cmd", cmd.String(), "result", result.String(), "bytes_in", sup.StdIn().BytesSent())
	if code := result.ExitCode(); code != 0 {
		return &exitError{code: code, err: result.Err}
	}
	return nil
}

// commandEnv is our environment overlaid by the env file and then by
// --env pairs
func commandEnv(envFile string, pairs []string) ([]string, error) {
	fileEnv, err := config.LoadEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	flagEnv, err := config.ParseEnvPairs(pairs)
	if err != nil {
		return nil, err
	}
	return config.EnvList(os.Environ(), config.MergeEnv(fileEnv, flagEnv)), nil
}

// outputSink picks how one of the command's output streams reaches w
func outputSink(s domain.Stream, w io.Writer, prefix, discard bool) stream.Sink {
	switch {
	case discard:
		return stream.Discard()
	case prefix:
		return logs.NewLineSink("", s, NewPrinter(w, 0).PrintStream)
	default:
		return stream.Callback(func(chunk []byte) { _, _ = w.Write(chunk) }, nil)
	}
}

// forwardInput copies in to the command's stdin until either side ends,
// then sends end of file.
func forwardInput(ctx context.Context, logger *slog.Logger, stdin *stream.Output, in io.Reader) {
	defer stdin.RequestClose()

	buf := make([]byte, constants.DefaultWriteChunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := stdin.WriteAll(ctx, buf[:n]); werr != nil {
				logger.Debug("command stopped taking input", "sent", stdin.BytesSent(), "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("reading input", "error", err)
			}
			return
		}
	}
}

//go:build linux

package supervisor

import (
	"context"

	"github.com/charliek/procio/internal/domain"
	"github.com/charliek/procio/internal/stream"
)

// Execute runs cmd to completion on a private supervisor: input is written
// to its stdin, which is then closed, and the outcome is returned. A program
// that cannot start yields a result whose Err is set, not an error.
//
// If ctx ends first the child is killed; the result of that run is still
// returned, together with ctx.Err().
func Execute(ctx context.Context, cmd Command, stdout, stderr stream.Sink, input []byte, opts ...Option) (domain.RunResult, error) {
	s, err := New(opts...)
	if err != nil {
		return domain.RunResult{}, err
	}
	defer s.Close()

	if err := s.Run(cmd, nil, stdout, stderr); err != nil {
		return domain.RunResult{}, err
	}

	stdin := s.StdIn()
	if len(input) > 0 {
		if err := stdin.WriteAll(ctx, input); err != nil && ctx.Err() == nil {
			s.logger.Debug("child stopped taking input", "supervisor", s.name, "sent", stdin.BytesSent(), "error", err)
		}
	}
	stdin.RequestClose()

	if err := s.WaitTerminationContext(ctx); err != nil {
		s.logger.Debug("context done, killing child", "supervisor", s.name, "pid", s.ChildPid())
		_ = s.Signal(sigkill)
		s.WaitTermination()
		result, _ := s.Result()
		return result, err
	}

	result, _ := s.Result()
	return result, nil
}

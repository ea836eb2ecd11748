package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Completer completes approved bookings whose rental period is over.
type Completer interface {
	CompleteElapsed(ctx context.Context) (int, error)
}

// CompletionSweeper runs the completer on a fixed interval.
type CompletionSweeper struct {
	completer Completer
	interval  time.Duration
	logger    *zerolog.Logger
}

func NewCompletionSweeper(completer Completer, interval time.Duration, logger *zerolog.Logger) *CompletionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CompletionSweeper{completer: completer, interval: interval, logger: logger}
}

func (s *CompletionSweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("completion sweeper started")
	defer s.logger.Info().Msg("completion sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of completed bookings.
func (s *CompletionSweeper) RunOnce(ctx context.Context) int {
	n, err := s.completer.CompleteElapsed(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("completed", n).Msg("completion sweep failed")
		return n
	}
	if n > 0 {
		s.logger.Info().Int("completed", n).Msg("completed elapsed bookings")
	}
	return n
}

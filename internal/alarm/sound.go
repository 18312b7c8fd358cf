package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const restartDelay = time.Second

// SoundActuator plays the alarm by running a player command over and over
// until stopped.
type SoundActuator struct {
	command []string
	logger  *slog.Logger
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSoundActuator(command []string, logger *slog.Logger) *SoundActuator {
	return &SoundActuator{command: append([]string(nil), command...), logger: logger}
}

func (s *SoundActuator) Play() error {
	if len(s.command) == 0 {
		return errors.New("alarm: empty player command")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	path, err := exec.LookPath(s.command[0])
	if err != nil {
		return fmt.Errorf("alarm player: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, path, done)
	return nil
}

func (s *SoundActuator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.done = nil
	return nil
}

func (s *SoundActuator) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// wait blocks until the current player loop exits; for tests and shutdown.
func (s *SoundActuator) wait(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *SoundActuator) loop(ctx context.Context, path string, done chan struct{}) {
	defer close(done)
	for {
		cmd := exec.CommandContext(ctx, path, s.command[1:]...)
		err := cmd.Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("alarm player exited", "err", err)
			}
			select {
			case <-time.After(restartDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

package auth

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRefreshInterval is how often the loop refreshes the token.
const DefaultRefreshInterval = 30 * time.Second

// StartRefreshLoop starts a goroutine that keeps the access token fresh.
// It reports false without starting anything when no refresh token is saved
// or a loop is already running. The loop stops itself when the refresh
// token disappears or a refresh fails, and when ctx is canceled.
func (s *Session) StartRefreshLoop(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	if !s.HasRefreshToken() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loopStop != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.loopStop = cancel
	s.loopDone = done

	go s.runRefreshLoop(loopCtx, interval, done)

	s.logger.Debug("refresh loop started", slog.Duration("interval", interval))

	return true
}

// StopRefreshLoop stops the loop and waits for it to exit. It is a no-op
// when no loop is running.
func (s *Session) StopRefreshLoop() {
	s.mu.Lock()
	stop, done := s.loopStop, s.loopDone
	s.mu.Unlock()

	if stop == nil {
		return
	}

	stop()
	<-done
}

// RefreshLoopActive reports whether the loop is running.
func (s *Session) RefreshLoopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loopStop != nil
}

func (s *Session) runRefreshLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.loopDone == done {
			s.loopStop()
			s.loopStop = nil
			s.loopDone = nil
		}
		s.mu.Unlock()

		close(done)
		s.logger.Debug("refresh loop stopped")
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tok, _, err := s.tokens.Load()
		if err != nil || tok == nil || tok.RefreshToken == "" || tok.AccessToken == "" {
			return
		}

		if _, err := s.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("background refresh failed", slog.String("error", err.Error()))
			}

			return
		}
	}
}

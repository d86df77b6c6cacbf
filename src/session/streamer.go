package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/types"
)

// stream consumes every feed concurrently and returns once all of them
// have released their subscriptions.
func (s *Session) stream(ctx context.Context, l *link) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, feed := range s.feeds {
		wg.Add(1)
		go func(feed sensor.Feed) {
			defer wg.Done()
			if err := s.streamFeed(ctx, l, feed); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(feed)
	}
	wg.Wait()
	return firstErr
}

// streamFeed writes one telemetry message per sample while streaming is
// enabled. Samples that arrive while it is disabled are dropped.
func (s *Session) streamFeed(ctx context.Context, l *link, feed sensor.Feed) error {
	signal := feed.Signal()
	samples := feed.Samples(ctx)
	defer func() {
		// Wait for the feed to release its subscription.
		for range samples {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			if !s.streaming.Load() {
				continue
			}
			if err := l.send(types.NewTelemetry(s.cfg.DeviceID, signal, sample)); err != nil {
				if ctx.Err() != nil || l.isClosed() {
					return nil
				}
				// Fail the shared socket so the listener's read ends too.
				l.close()
				return fmt.Errorf("session: send %s: %w", signal, err)
			}
			s.sent.Add(1)
			s.logger.Trace().Str("signal", string(signal)).Float64("value", sample.Value).Msg("telemetry sent")
		}
	}
}

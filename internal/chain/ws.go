package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var errNoBlockYet = errors.New("no block observed on stream yet")

type WSOptions struct {
	URL string
	// Subscribe is sent verbatim after connecting, if set.
	Subscribe         []byte
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
	// OnHeight is called for every new maximum height.
	OnHeight func(int64)
}

// WSSource follows a push stream of {"height": n} frames and serves the
// highest height seen. Run owns the connection and reconnects with backoff.
type WSSource struct {
	opts      WSOptions
	height    atomic.Int64
	seen      atomic.Bool
	seenFirst bool
}

func NewWSSource(opts WSOptions) *WSSource {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &WSSource{opts: opts}
}

func (s *WSSource) Height(context.Context) (int64, error) {
	if !s.seen.Load() {
		return 0, errNoBlockYet
	}
	return s.height.Load(), nil
}

func (s *WSSource) observe(h int64) {
	for {
		cur := s.height.Load()
		if s.seen.Load() && h <= cur {
			return
		}
		if s.height.CompareAndSwap(cur, h) {
			s.seen.Store(true)
			if s.opts.OnHeight != nil {
				s.opts.OnHeight(h)
			}
			return
		}
	}
}

// Run blocks until ctx is done.
func (s *WSSource) Run(ctx context.Context) error {
	if strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("chain ws url not configured")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			s.logger().Warn("chain ws connect failed", zap.Error(err))
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		s.logger().Info("chain ws connected", zap.String("url", s.opts.URL))
		if len(s.opts.Subscribe) > 0 {
			if err := conn.Write(ctx, websocket.MessageText, s.opts.Subscribe); err != nil {
				s.logger().Warn("chain ws subscribe failed", zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
				if err := sleepWithJitter(ctx, backoff); err != nil {
					return err
				}
				backoff = nextBackoff(backoff, s.opts.BackoffMax)
				continue
			}
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger().Warn("chain ws stream ended", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

type blockFrame struct {
	Type   string `json:"type"`
	Height *int64 `json:"height"`
}

func (s *WSSource) consume(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(hbCtx, s.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.Read(hbCtx)
		if err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return fmt.Errorf("heartbeat: %w", hbErr)
			default:
			}
			return err
		}
		if strings.TrimSpace(string(raw)) == "ping" {
			_ = conn.Write(hbCtx, websocket.MessageText, []byte(`{"type":"pong"}`))
			continue
		}
		var frame blockFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if strings.EqualFold(frame.Type, "ping") {
			_ = conn.Write(hbCtx, websocket.MessageText, []byte(`{"type":"pong"}`))
			continue
		}
		if frame.Height == nil || *frame.Height < 0 {
			continue
		}
		if !s.seenFirst {
			s.seenFirst = true
			s.logger().Info("chain ws first block", zap.Int64("height", *frame.Height))
		}
		s.observe(*frame.Height)
	}
}

func (s *WSSource) logger() *zap.Logger {
	if s.opts.Logger == nil {
		return zap.NewNop()
	}
	return s.opts.Logger
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

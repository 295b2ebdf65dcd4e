// Package bus implements the optional cross-instance fan-out described by
// types.Bus. A nil *Service behaves as a no-op: every method is a safe,
// cheap no-op, which is how the server runs in single-instance mode with no
// persisted state at all.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// envelope is the container placed on the wire between instances. Frame
// carries the already-JSON-encoded protocol payload verbatim, so a
// subscriber doesn't need to know the concrete frame type to forward it.
type envelope struct {
	Frame json.RawMessage `json:"frame"`
}

// Service handles Redis-backed pub/sub fan-out, guarded by a circuit
// breaker so a degraded Redis never blocks a room's in-process broadcast.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, or nil in single-instance mode.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis and verifies connectivity with a PING.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	})

	slog.Info("connected to Redis pub/sub", "addr", addr)
	return &Service{client: rdb, cb: cb}, nil
}

func roomChannel(roomID types.RoomIDType) string {
	return fmt.Sprintf("ptt:room:%s", roomID)
}

func userChannel(userID types.UserIDType) string {
	return fmt.Sprintf("ptt:user:%s", userID)
}

// Publish fans a frame out to every other instance subscribed to roomID.
func (s *Service) Publish(ctx context.Context, roomID types.RoomIDType, frame any) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := marshalEnvelope(frame)
		if err != nil {
			return nil, err
		}
		return nil, s.client.Publish(ctx, roomChannel(roomID), data).Err()
	})
	return s.handlePublishErr(err, "roomID", string(roomID))
}

// PublishDirect fans a frame out to a single user's channel, regardless of
// which room (or instance) they're connected through.
func (s *Service) PublishDirect(ctx context.Context, targetUserID types.UserIDType, frame any) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := marshalEnvelope(frame)
		if err != nil {
			return nil, err
		}
		return nil, s.client.Publish(ctx, userChannel(targetUserID), data).Err()
	})
	return s.handlePublishErr(err, "targetUserID", string(targetUserID))
}

func marshalEnvelope(frame any) ([]byte, error) {
	frameBytes, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	data, err := json.Marshal(envelope{Frame: frameBytes})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func (s *Service) handlePublishErr(err error, labelKey, labelVal string) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		slog.Warn("redis circuit breaker open: dropping publish", labelKey, labelVal)
		return nil
	}
	slog.Error("redis publish failed", labelKey, labelVal, "error", err)
	return err
}

// Subscribe starts a background goroutine forwarding every message received
// on roomID's channel to handler, until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, roomID types.RoomIDType, handler func(payload []byte)) {
	if s == nil || s.client == nil {
		return
	}

	channel := roomChannel(roomID)
	pubsub := s.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		slog.Info("subscribed to Redis channel", "channel", channel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("redis subscription channel closed", "channel", channel)
					return
				}

				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("failed to unmarshal redis envelope", "error", err)
					continue
				}
				handler(env.Frame)
			}
		}
	}()
}

// Ping reports whether Redis is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts down the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

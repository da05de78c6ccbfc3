package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

const (
	// listenKeyRenewInterval keeps the user-data stream alive; the venue
	// expires keys after 60 minutes without a keepalive.
	listenKeyRenewInterval = 30 * time.Minute

	userStreamPongWait   = 70 * time.Second
	userStreamReconnect  = 2 * time.Second
	userStreamDialWindow = 15 * time.Second
)

// executionReport is the user-stream order update event.
type executionReport struct {
	Event           string `json:"e"`
	Symbol          string `json:"s"`
	OrderID         int64  `json:"i"`
	Status          string `json:"X"`
	LastPrice       string `json:"L"`
	LastQty         string `json:"l"`
	Commission      string `json:"n"`
	CommissionAsset string `json:"N"`
	TransactTime    int64  `json:"T"`
}

// UserStream consumes the venue's user-data stream and routes execution
// reports into the orders the venue has submitted.
type UserStream struct {
	venue     *Venue
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewUserStream creates the stream consumer for a venue.
func NewUserStream(v *Venue) *UserStream {
	return &UserStream{
		venue:  v,
		logger: v.logger.With(slog.String("component", "binance_user_stream")),
		done:   make(chan struct{}),
	}
}

// Run obtains a listen key, consumes the stream, and renews the key
// periodically. Reconnects on disconnect until ctx is cancelled or Close is
// called.
func (s *UserStream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}
		if err := s.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("user stream disconnected, reconnecting", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(userStreamReconnect):
		}
	}
}

// Close stops the stream.
func (s *UserStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *UserStream) runConnection(ctx context.Context) error {
	key, err := s.venue.client.NewListenKey(ctx)
	if err != nil {
		return fmt.Errorf("binance: listen key: %w", err)
	}

	url := fmt.Sprintf("%s/ws/%s", s.venue.wsHost, key)
	dialer := websocket.Dialer{HandshakeTimeout: userStreamDialWindow}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance: dial user stream: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(userStreamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(userStreamPongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.renewLoop(ctx, key, stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-stop:
			return
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance: user stream read: %w", domain.ErrWSDisconnect)
		}
		var report executionReport
		if err := json.Unmarshal(raw, &report); err != nil || report.Event != "executionReport" {
			continue
		}
		if err := s.dispatch(report); err != nil {
			s.logger.Error("execution report dispatch failed",
				slog.String("symbol", report.Symbol),
				slog.Int64("order_id", report.OrderID),
				slog.Any("error", err))
		}
	}
}

// renewLoop keeps the listen key alive for the duration of the connection.
func (s *UserStream) renewLoop(ctx context.Context, key string, stop <-chan struct{}) {
	ticker := time.NewTicker(listenKeyRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.venue.client.KeepAliveListenKey(ctx, key); err != nil {
				s.logger.Warn("listen key keepalive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// dispatch applies an execution report to the tracked order. Reports for
// orders placed outside this process are ignored, and reports carrying the
// same transactTime as the REST placement response are skipped so fills are
// not double counted.
func (s *UserStream) dispatch(report executionReport) error {
	id := fmt.Sprintf("%d", report.OrderID)

	s.venue.mu.Lock()
	o, ok := s.venue.orders[id]
	seen := s.venue.lastTransact[id]
	if ok {
		s.venue.lastTransact[id] = report.TransactTime
	}
	s.venue.mu.Unlock()

	if !ok {
		s.logger.Debug("execution report for untracked order",
			slog.String("symbol", report.Symbol), slog.String("order_id", id))
		return nil
	}
	if seen == report.TransactTime {
		return nil
	}

	var fills []domain.Fill
	if report.LastQty != "" && report.LastQty != "0" {
		asset := report.CommissionAsset
		if asset == "" {
			asset = "BNB"
		}
		fill, err := parseFill(report.LastQty, report.LastPrice, report.Commission, asset)
		if err != nil {
			return fmt.Errorf("binance: bad execution report: %w", err)
		}
		if fill.Amount.IsPositive() {
			fills = append(fills, fill)
		}
	}
	return o.Update(orderStatus(report.Status), fills)
}

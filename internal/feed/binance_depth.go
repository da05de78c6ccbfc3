// Package feed streams market data from venue websockets into local order
// books.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// DepthSnapshot is the REST order-book snapshot that seeds a book before
// diff events are applied.
type DepthSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// SnapshotFunc fetches the current REST depth snapshot for a symbol.
type SnapshotFunc func(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error)

// depthEvent is one diff-depth message from the stream.
type depthEvent struct {
	Event   string      `json:"e"`
	Symbol  string      `json:"s"`
	FirstID int64       `json:"U"`
	FinalID int64       `json:"u"`
	Bids    [][2]string `json:"b"`
	Asks    [][2]string `json:"a"`
}

// DepthFeed keeps one order book synchronized with a venue's diff-depth
// stream. Diff events arriving before the REST snapshot are buffered; once
// the snapshot lands, buffered events overlapping lastUpdateId+1 are
// replayed, the book is marked ready, and later events apply directly. A
// disconnect clears the book and restarts the whole handshake.
type DepthFeed struct {
	wsHost        string
	symbol        string
	book          *book.OrderBook
	snapshot      SnapshotFunc
	snapshotLimit int
	logger        *slog.Logger
	closeOnce     sync.Once
	done          chan struct{}
}

// NewDepthFeed creates a feed for one symbol.
func NewDepthFeed(wsHost, symbol string, b *book.OrderBook, snapshot SnapshotFunc, snapshotLimit int, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		wsHost:        wsHost,
		symbol:        symbol,
		book:          b,
		snapshot:      snapshot,
		snapshotLimit: snapshotLimit,
		logger: logger.With(
			slog.String("component", "depth_feed"),
			slog.String("symbol", symbol)),
		done: make(chan struct{}),
	}
}

// Run connects and keeps the book in sync until ctx is cancelled or Close is
// called. Reconnects with a fixed delay on disconnect.
func (f *DepthFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		f.book.Clear()
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("depth stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the feed.
func (f *DepthFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *DepthFeed) runConnection(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws/%s@depth@100ms", f.wsHost, strings.ToLower(f.symbol))
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		conn.Close()
	}()

	var queue []depthEvent
	synced := false

	// The snapshot is requested only after the first diff arrives, so that
	// no event between the snapshot and stream start can be missed.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read %s: %w", f.symbol, domain.ErrWSDisconnect)
		}
		var ev depthEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "depthUpdate" {
			continue
		}

		if synced {
			f.apply(ev)
			continue
		}

		queue = append(queue, ev)
		snap, err := f.snapshot(ctx, f.symbol, f.snapshotLimit)
		if err != nil {
			f.logger.Warn("depth snapshot failed, retrying", slog.String("error", err.Error()))
			continue
		}

		f.applySnapshot(snap)
		for _, q := range queue {
			if replayable(q, snap.LastUpdateID) {
				f.apply(q)
			}
		}
		queue = nil
		synced = true
		f.book.SetReady(true)
		f.logger.Info("book synced", slog.Int64("last_update_id", snap.LastUpdateID))
	}
}

// replayable reports whether a buffered diff still matters after the
// snapshot landed: anything ending at or before lastUpdateID is already in
// the snapshot, everything else must be replayed. The snapshot may arrive
// several diffs late (retried fetches), so events strictly after
// lastUpdateID+1 are replayed too, not just the one overlapping it.
func replayable(ev depthEvent, lastUpdateID int64) bool {
	return ev.FinalID > lastUpdateID
}

func (f *DepthFeed) applySnapshot(snap *DepthSnapshot) {
	for _, lvl := range snap.Asks {
		f.updateLevel(f.book.UpdateAsks, lvl)
	}
	for _, lvl := range snap.Bids {
		f.updateLevel(f.book.UpdateBids, lvl)
	}
}

func (f *DepthFeed) apply(ev depthEvent) {
	for _, lvl := range ev.Asks {
		f.updateLevel(f.book.UpdateAsks, lvl)
	}
	for _, lvl := range ev.Bids {
		f.updateLevel(f.book.UpdateBids, lvl)
	}
}

func (f *DepthFeed) updateLevel(update func(price, qty decimal.Decimal), lvl [2]string) {
	price, err := decimal.NewFromString(lvl[0])
	if err != nil {
		f.logger.Warn("bad price level", slog.String("price", lvl[0]))
		return
	}
	qty, err := decimal.NewFromString(lvl[1])
	if err != nil {
		f.logger.Warn("bad level quantity", slog.String("qty", lvl[1]))
		return
	}
	update(price, qty)
}

// pingLoop sends periodic ping messages to keep the connection alive.
func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

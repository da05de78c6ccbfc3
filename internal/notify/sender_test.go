package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestTelegramSenderSendsPlainText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok123", "chat42")
	s.api = srv.URL

	err := s.Send(context.Background(), "chain executed",
		"triangle_btcusdt_ethbtc_ethusdt: 100 USDT in, 104 USDT out (filled)")
	require.NoError(t, err)

	assert.Equal(t, "chat42", got["chat_id"])
	assert.Equal(t, "chain executed\ntriangle_btcusdt_ethbtc_ethusdt: 100 USDT in, 104 USDT out (filled)",
		got["text"])
	// Underscored strategy names must go out verbatim, so no markdown mode.
	_, hasParseMode := got["parse_mode"]
	assert.False(t, hasParseMode)
}

func TestTelegramSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.api = srv.URL

	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSenderWrapsBodyInCodeBlock(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "chain stopped",
		"triangle_btcusdt_ethbtc_ethusdt: 100 USDT in, 0 USDT out (stopped)")
	require.NoError(t, err)

	assert.Equal(t,
		"**chain stopped**\n```\ntriangle_btcusdt_ethbtc_ethusdt: 100 USDT in, 0 USDT out (stopped)\n```",
		got["content"])
}

func TestNotifierFiltersUnsubscribedEvents(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, []string{EventChainExecuted}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventError, "t", "m"))
	assert.Equal(t, 0, calls)

	require.NoError(t, n.Notify(context.Background(), EventChainExecuted, "t", "m"))
	assert.Equal(t, 1, calls)
}

package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discordrelay/internal/eventbus"
	"discordrelay/internal/relay"
	logx "discordrelay/pkg/logx"
)

var sample = relay.Envelope{
	Type:      relay.TypeChannelMessage,
	UserID:    "u1",
	Message:   "hello",
	ChannelID: "c1",
	MessageID: "m1",
}

func TestForwardPostsEnvelope(t *testing.T) {
	t.Parallel()

	type seen struct {
		method, contentType, userAgent, deliveryID string
		body                                       map[string]any
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		got <- seen{r.Method, r.Header.Get("Content-Type"), r.Header.Get("User-Agent"), r.Header.Get(HeaderDeliveryID), m}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Settings{URL: srv.URL, UserAgent: "discord-relay/test"}, srv.Client(), logx.Nop(), nil)
	res := f.Forward(context.Background(), sample)

	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Empty(t, res.Error)

	s := <-got
	assert.Equal(t, http.MethodPost, s.method)
	assert.Equal(t, "application/json", s.contentType)
	assert.Equal(t, "discord-relay/test", s.userAgent)
	assert.Equal(t, res.DeliveryID, s.deliveryID)
	assert.Equal(t, map[string]any{
		"type":      "channel_message",
		"userId":    "u1",
		"message":   "hello",
		"channelId": "c1",
		"messageId": "m1",
	}, s.body)
}

func TestForwardNon2xxIsFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Settings{URL: srv.URL}, srv.Client(), logx.Nop(), nil)
	res := f.Forward(context.Background(), sample)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
	assert.Contains(t, res.Error, "500")
	// At most one attempt.
	assert.Equal(t, int32(1), calls.Load())
}

func TestForwardTransportErrorIsContained(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := New(Settings{URL: url}, nil, logx.Nop(), nil)
	res := f.Forward(context.Background(), sample)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, res.HTTPStatus)
	assert.NotEmpty(t, res.Error)
}

func TestForwardTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Settings{URL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client(), logx.Nop(), nil)
	start := time.Now()
	res := f.Forward(context.Background(), sample)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestForwardWithoutURLSkips(t *testing.T) {
	t.Parallel()
	noNetwork := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)
		return nil, errors.New("no network")
	})}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, EventDelivery)
	defer unsub()

	f := New(Settings{URL: "  "}, noNetwork, logx.Nop(), bus)
	res := f.Forward(context.Background(), sample)
	f.Deliver(context.Background(), sample)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.NotEmpty(t, res.DeliveryID)
	assert.Zero(t, res.HTTPStatus)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			assert.Equal(t, StatusSkipped, ev.Data.(Result).Status)
		case <-time.After(time.Second):
			t.Fatal("skipped delivery was not published")
		}
	}
}

func TestForwardPublishesResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, EventDelivery)
	defer unsub()

	f := New(Settings{URL: srv.URL}, srv.Client(), logx.Nop(), bus)
	res := f.Forward(context.Background(), sample)

	select {
	case ev := <-ch:
		assert.Equal(t, EventDelivery, ev.Type)
		pub, ok := ev.Data.(Result)
		require.True(t, ok)
		assert.Equal(t, res.DeliveryID, pub.DeliveryID)
		assert.Equal(t, StatusSent, pub.Status)
		assert.Equal(t, http.StatusNoContent, pub.HTTPStatus)
	case <-time.After(time.Second):
		t.Fatal("no delivery event published")
	}
}

func TestApplySwapsURL(t *testing.T) {
	t.Parallel()
	hits := make(chan string, 2)
	mk := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits <- name
		}))
	}
	a, b := mk("a"), mk("b")
	defer a.Close()
	defer b.Close()

	f := New(Settings{URL: a.URL}, nil, logx.Nop(), nil)
	f.Deliver(context.Background(), sample)
	f.Apply(Settings{URL: b.URL})
	f.Deliver(context.Background(), sample)

	assert.Equal(t, "a", <-hits)
	assert.Equal(t, "b", <-hits)
}

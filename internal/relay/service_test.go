package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discordrelay/internal/runtime/supervisor"
	kit "discordrelay/internal/transport"
	logx "discordrelay/pkg/logx"
)

type recordingDeliverer struct {
	mu   sync.Mutex
	envs []Envelope
	// block, when set, holds every delivery until closed.
	block chan struct{}
}

func (d *recordingDeliverer) Deliver(_ context.Context, env Envelope) {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
}

func (d *recordingDeliverer) got() []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Envelope(nil), d.envs...)
}

type reply struct {
	interactionID string
	text          string
	ephemeral     bool
}

type recordingResponder struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (r *recordingResponder) RespondCommand(_ context.Context, cmd *kit.Command, text string, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{cmd.InteractionID, text, ephemeral})
	return r.err
}

func (r *recordingResponder) got() []reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reply(nil), r.replies...)
}

func settings(channels ...string) Settings {
	return Settings{Channels: channels, AckCommands: true, AckText: "ok", RejectText: "no"}
}

func waitTasks(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestServiceForwardsAcceptedMessage(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	s := New(settings("c1"), d, nil, logx.Nop())

	s.Handle(context.Background(), msgUpdate("c1", false))
	s.Handle(context.Background(), msgUpdate("c2", false))
	s.Handle(context.Background(), msgUpdate("c1", true))
	waitTasks(t, s)

	got := d.got()
	require.Len(t, got, 1)
	assert.Equal(t, TypeChannelMessage, got[0].Type)
	assert.Equal(t, "hi", got[0].Message)
	assert.Equal(t, "c1", got[0].ChannelID)
}

func TestServiceEmptyAllowListDropsEverything(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	r := &recordingResponder{}
	s := New(settings(), d, r, logx.Nop())

	s.Handle(context.Background(), msgUpdate("c1", false))
	s.Handle(context.Background(), cmdUpdate("c1", false))
	waitTasks(t, s)

	assert.Empty(t, d.got())
	assert.Equal(t, []reply{{"i1", "no", true}}, r.got())
}

func TestServiceCommandAcks(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	r := &recordingResponder{}
	s := New(settings("c1"), d, r, logx.Nop())

	s.Handle(context.Background(), cmdUpdate("c1", false))
	s.Handle(context.Background(), cmdUpdate("c1", true))
	waitTasks(t, s)

	require.Len(t, d.got(), 1)
	assert.Equal(t, "/ping", d.got()[0].Message)
	// Bots get no reply at all.
	assert.Equal(t, []reply{{"i1", "ok", true}}, r.got())
}

func TestServiceAckDisabled(t *testing.T) {
	t.Parallel()
	r := &recordingResponder{}
	set := settings("c1")
	set.AckCommands = false
	s := New(set, &recordingDeliverer{}, r, logx.Nop())

	s.Handle(context.Background(), cmdUpdate("c1", false))
	s.Handle(context.Background(), cmdUpdate("c2", false))
	waitTasks(t, s)

	assert.Empty(t, r.got())
}

func TestServiceReplyErrorDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	r := &recordingResponder{err: errors.New("unknown interaction")}
	s := New(settings("c1"), d, r, logx.Nop())

	s.Handle(context.Background(), cmdUpdate("c1", false))
	waitTasks(t, s)

	assert.Len(t, d.got(), 1)
}

func TestServiceApplySwapsAllowList(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	s := New(settings("c1"), d, nil, logx.Nop())

	s.Apply(settings("c2"))
	s.Handle(context.Background(), msgUpdate("c1", false))
	s.Handle(context.Background(), msgUpdate("c2", false))
	waitTasks(t, s)

	got := d.got()
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ChannelID)
}

func TestServiceHandleDoesNotWaitForDelivery(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{block: make(chan struct{})}
	s := New(settings("c1"), d, nil, logx.Nop())

	done := make(chan struct{})
	go func() {
		s.Handle(context.Background(), msgUpdate("c1", false))
		s.Handle(context.Background(), msgUpdate("c1", false))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on an in-flight delivery")
	}

	close(d.block)
	waitTasks(t, s)
	assert.Len(t, d.got(), 2)
}

func TestServiceRunStopsOnClosedChannel(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{}
	s := New(settings("c1"), d, nil, logx.Nop())

	updates := make(chan kit.Update, 4)
	updates <- msgUpdate("c1", false)
	updates <- msgUpdate("c3", false)
	close(updates)

	require.NoError(t, s.Run(context.Background(), updates))
	waitTasks(t, s)
	assert.Len(t, d.got(), 1)
}

func TestServiceDeliveryOutlivesRunContext(t *testing.T) {
	t.Parallel()
	d := &recordingDeliverer{block: make(chan struct{})}
	s := New(settings("c1"), d, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Handle(ctx, msgUpdate("c1", false))
	cancel()
	close(d.block)

	waitTasks(t, s)
	assert.Len(t, d.got(), 1)
}

// flakyDeliverer panics on its first call.
type flakyDeliverer struct {
	recordingDeliverer
	calls atomic.Int32
}

func (d *flakyDeliverer) Deliver(ctx context.Context, env Envelope) {
	if d.calls.Add(1) == 1 {
		panic("nil pointer in webhook client")
	}
	d.recordingDeliverer.Deliver(ctx, env)
}

func TestServiceRecoversDeliveryPanic(t *testing.T) {
	t.Parallel()
	d := &flakyDeliverer{}
	s := New(settings("c1"), d, nil, logx.Nop())

	s.Handle(context.Background(), msgUpdate("c1", false))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in relay.forward")

	// The service keeps relaying after the panic.
	s.Handle(context.Background(), msgUpdate("c1", false))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.Error(t, s.Wait(ctx2))
	require.Len(t, d.got(), 1)
	assert.Equal(t, "hi", d.got()[0].Message)

	var forward *supervisor.TaskStats
	for _, ts := range s.Supervisor().Snapshot().Tasks {
		if ts.Name == "relay.forward" {
			forward = &ts
		}
	}
	require.NotNil(t, forward)
	assert.Equal(t, uint64(2), forward.Runs)
	assert.Equal(t, uint64(1), forward.Panics)
}

// Package audit persists delivery results published on the event bus.
package audit

import (
	"context"
	"time"

	"discordrelay/internal/eventbus"
	"discordrelay/internal/forwarder"
	"discordrelay/internal/storage"
	logx "discordrelay/pkg/logx"
)

const writeTimeout = 2 * time.Second

// Recorder copies forwarder results into a Store.
type Recorder struct {
	store storage.Store
	log   logx.Logger
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(logx.String("comp", "audit"))}
}

// Run subscribes to delivery events and writes them until ctx is done.
// Store errors are logged and never stop the loop.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	if r == nil || r.store == nil || bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(256, forwarder.EventDelivery)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			r.drain(ctx, ch)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

// drain writes whatever is already buffered without waiting for more.
func (r *Recorder) drain(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	if res, ok := ev.Data.(forwarder.Result); ok {
		r.write(ctx, res)
	}
}

func (r *Recorder) write(ctx context.Context, res forwarder.Result) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.store.AppendDelivery(wctx, RecordFromResult(res)); err != nil {
		r.log.Warn("audit write failed", logx.String("delivery_id", res.DeliveryID), logx.Err(err))
	}
}

// RecordFromResult flattens a result into its stored form.
func RecordFromResult(res forwarder.Result) storage.DeliveryRecord {
	source := res.Envelope.MessageID
	if source == "" {
		source = res.Envelope.InteractionID
	}
	return storage.DeliveryRecord{
		At:         res.At,
		DeliveryID: res.DeliveryID,
		Type:       string(res.Envelope.Type),
		ChannelID:  res.Envelope.ChannelID,
		UserID:     res.Envelope.UserID,
		SourceID:   source,
		Status:     string(res.Status),
		HTTPStatus: res.HTTPStatus,
		Error:      res.Error,
		TookMS:     res.Took.Milliseconds(),
	}
}

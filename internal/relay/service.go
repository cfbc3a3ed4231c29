package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"discordrelay/internal/metrics"
	"discordrelay/internal/runtime/supervisor"
	kit "discordrelay/internal/transport"
	logx "discordrelay/pkg/logx"
)

// Deliverer performs one delivery attempt for an accepted envelope.
// Implementations report failures themselves; nothing is returned.
type Deliverer interface {
	Deliver(ctx context.Context, env Envelope)
}

// CommandResponder answers a slash command interaction.
type CommandResponder interface {
	RespondCommand(ctx context.Context, cmd *kit.Command, text string, ephemeral bool) error
}

// Settings is the hot-swappable part of the service.
type Settings struct {
	Channels    []string
	AckCommands bool
	AckText     string
	RejectText  string
}

type state struct {
	filter *Filter
	s      Settings
}

// ackTimeout keeps command replies inside the interaction response window.
const ackTimeout = 3 * time.Second

// Service filters gateway updates, normalizes the accepted ones and hands
// them to the deliverer as independent background tasks.
type Service struct {
	log       logx.Logger
	deliver   Deliverer
	responder CommandResponder

	st atomic.Pointer[state]

	// tasks is rooted on a context that is never cancelled: shutdown waits
	// for in-flight deliveries (bounded by Wait) instead of aborting them.
	tasks *supervisor.Supervisor
}

// New builds the service. responder may be nil, which disables command replies.
func New(s Settings, d Deliverer, responder CommandResponder, log logx.Logger) *Service {
	log = log.With(logx.String("comp", "relay"))
	svc := &Service{
		log:       log,
		deliver:   d,
		responder: responder,
		tasks: supervisor.NewSupervisor(context.Background(),
			supervisor.WithLogger(log),
			supervisor.WithCancelOnError(false),
		),
	}
	svc.Apply(s)
	return svc
}

// Apply swaps the allow-list and reply settings. Events already accepted are
// not re-evaluated.
func (s *Service) Apply(set Settings) {
	st := &state{filter: NewFilter(set.Channels), s: set}
	s.st.Store(st)
	if st.filter.Size() == 0 {
		s.log.Error("allow-list is empty; every event will be ignored until it is configured")
		return
	}
	s.log.Info("relay settings applied",
		logx.Int("channels", st.filter.Size()),
		logx.Bool("ack_commands", set.AckCommands),
	)
}

// Run consumes updates until ctx is done or the channel is closed.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			s.Handle(ctx, up)
		}
	}
}

// Handle runs the filter and, for accepted events, schedules the delivery.
// It never blocks on the network.
func (s *Service) Handle(ctx context.Context, up kit.Update) {
	st := s.st.Load()
	metrics.EventsReceived.WithLabelValues(string(up.Kind)).Inc()

	d := st.filter.Check(up)
	if !d.Accept {
		metrics.EventsRejected.WithLabelValues(d.Reason).Inc()
		s.reject(ctx, st, up, d.Reason)
		return
	}

	env, ok := Normalize(up)
	if !ok {
		metrics.EventsRejected.WithLabelValues(ReasonMalformed).Inc()
		return
	}

	s.log.Info("event accepted",
		logx.String("type", string(env.Type)),
		logx.String("channel_id", env.ChannelID),
		logx.String("user", authorTag(up)),
		logx.String("message", clip(env.Message, 200)),
	)

	if up.Kind == kit.UpdateCommand && st.s.AckCommands {
		s.reply(ctx, up.Command, st.s.AckText)
	}

	s.tasks.Go0("relay.forward", func(tctx context.Context) {
		s.deliver.Deliver(tctx, env)
	})
}

func (s *Service) reject(ctx context.Context, st *state, up kit.Update, reason string) {
	switch reason {
	case ReasonAllowListEmpty:
		s.log.Error("allow-list is empty; event ignored", logx.String("kind", string(up.Kind)))
	case ReasonBotAuthor:
		s.log.Trace("ignoring automated author", logx.String("kind", string(up.Kind)))
		return
	default:
		s.log.Debug("event rejected", logx.String("kind", string(up.Kind)), logx.String("reason", reason))
	}
	if up.Kind == kit.UpdateCommand && up.Command != nil && st.s.AckCommands {
		s.reply(ctx, up.Command, st.s.RejectText)
	}
}

func (s *Service) reply(ctx context.Context, cmd *kit.Command, text string) {
	if s.responder == nil || cmd == nil || strings.TrimSpace(text) == "" {
		return
	}
	responder := s.responder
	log := s.log
	s.tasks.Go0("relay.ack", func(context.Context) {
		// Detached from the run context so a reply started before shutdown
		// still reaches Discord.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
		defer cancel()
		if err := responder.RespondCommand(actx, cmd, text, true); err != nil {
			log.Warn("command reply failed",
				logx.String("command", cmd.Name),
				logx.String("interaction_id", cmd.InteractionID),
				logx.Err(err),
			)
		}
	})
}

// Wait blocks until every scheduled delivery finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

// Supervisor returns the delivery task supervisor for health reporting.
func (s *Service) Supervisor() *supervisor.Supervisor { return s.tasks }

func authorTag(up kit.Update) string {
	switch {
	case up.Message != nil:
		return up.Message.AuthorTag
	case up.Command != nil:
		return up.Command.UserTag
	}
	return ""
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

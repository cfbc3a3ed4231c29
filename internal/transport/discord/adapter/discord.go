package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"discordrelay/internal/metrics"
	rtsup "discordrelay/internal/runtime/supervisor"
	kit "discordrelay/internal/transport"
	logx "discordrelay/pkg/logx"
)

type Config struct {
	Token string
	// GuildID scopes command registration. Empty registers global commands.
	GuildID string
}

// Intents needed to see guild messages and their text.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

type Adapter struct {
	cfg Config
	log logx.Logger

	sess    *discordgo.Session
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter goroutines (drop reporter, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. It is reported periodically instead of per update.
	droppedUpdates atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once
	appID     atomic.Value // string
	connected atomic.Bool

	cmdMu   sync.Mutex
	cmdHash uint64
}

var routeLogsOnce sync.Once

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "discord.adapter"))

	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = Intents
	s.LogLevel = discordgo.LogWarning

	routeLogsOnce.Do(func() { routeLibraryLogs(log) })

	a := &Adapter{cfg: cfg, log: log, sess: s, ready: make(chan struct{})}
	a.appID.Store("")
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// routeLibraryLogs sends discordgo's own messages through logx.
func routeLibraryLogs(log logx.Logger) {
	lib := log.With(logx.String("lib", "discordgo"))
	discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogError:
			lib.Error(msg)
		case discordgo.LogWarning:
			lib.Warn(msg)
		case discordgo.LogInformational:
			lib.Info(msg)
		default:
			lib.Debug(msg)
		}
	}
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r == nil || r.User == nil {
			return
		}
		id := r.User.ID
		if r.Application != nil && r.Application.ID != "" {
			id = r.Application.ID
		}
		a.appID.Store(id)
		a.connected.Store(true)
		a.log.Info("bot is online", logx.String("user", r.User.String()), logx.Int("guilds", len(r.Guilds)))
		a.readyOnce.Do(func() { close(a.ready) })
	})

	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		a.connected.Store(true)
		a.log.Info("gateway session resumed")
	})

	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.connected.Store(false)
		a.log.Warn("gateway disconnected; library will reconnect")
	})

	a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: messageFromEvent(m.Message)})
	})

	a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCommand, Command: commandFromInteraction(i.Interaction)})
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
		metrics.UpdatesDropped.Inc()
	}
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Ready is closed after the first READY event.
func (a *Adapter) Ready() <-chan struct{} { return a.ready }

// Connected reports whether the gateway session is currently up.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// Start opens the gateway session. Reconnects are handled by discordgo.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	if err := a.sess.Open(); err != nil {
		var nilOut chan<- kit.Update
		a.out.Store(nilOut)
		a.runMu.Unlock()
		return fmt.Errorf("discord gateway open: %w", err)
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	// Close the session when the adapter context is cancelled.
	sup.Go0("discord.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		_ = a.sess.Close()
	})

	a.log.Info("gateway session opened")
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))

	if sup != nil {
		sup.Cancel()
	}
	if err := a.sess.Close(); err != nil {
		a.log.Debug("session close", logx.Err(err))
	}
	a.connected.Store(false)

	if sup == nil {
		return nil
	}
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("discord stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const discordTextLimit = 2000

// splitDiscordText splits long text into chunks under the message limit,
// preferring newline boundaries.
func splitDiscordText(s string, limit int) []string {
	if limit <= 0 {
		limit = discordTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.New("discord: channel id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, chunk := range splitDiscordText(text, discordTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if _, err := a.sess.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// RespondCommand answers an interaction with a plain message.
func (a *Adapter) RespondCommand(ctx context.Context, cmd *kit.Command, text string, ephemeral bool) error {
	if cmd == nil {
		return errors.New("discord: nil command")
	}
	in, ok := cmd.Raw.(*discordgo.Interaction)
	if !ok || in == nil {
		return fmt.Errorf("discord: command %q carries no interaction", cmd.Name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return a.sess.InteractionRespond(in, interactionResponse(text, ephemeral), discordgo.WithContext(ctx))
}

func interactionResponse(text string, ephemeral bool) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: splitDiscordText(text, discordTextLimit)[0]}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

// UpdateCommands overwrites the application's slash commands.
// It only performs a network call when the command list changed.
func (a *Adapter) UpdateCommands(ctx context.Context, specs []kit.CommandSpec) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	sum := hashSpecs(specs)
	if sum == a.cmdHash {
		return nil
	}

	select {
	case <-a.ready:
	case <-ctx.Done():
		return fmt.Errorf("discord: waiting for ready: %w", ctx.Err())
	}
	appID, _ := a.appID.Load().(string)
	if appID == "" {
		return errors.New("discord: application id unknown")
	}

	cmds, err := applicationCommands(specs)
	if err != nil {
		return err
	}
	if _, err := a.sess.ApplicationCommandBulkOverwrite(appID, a.cfg.GuildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}

	a.cmdHash = sum
	scope := "global"
	if a.cfg.GuildID != "" {
		scope = "guild"
	}
	a.log.Info("slash commands registered", logx.Int("count", len(cmds)), logx.String("scope", scope))
	return nil
}

func hashSpecs(specs []kit.CommandSpec) uint64 {
	h := fnv.New64a()
	for _, c := range specs {
		h.Write([]byte(c.Name))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
		for _, o := range c.Options {
			fmt.Fprintf(h, "%s\x00%s\x00%s\x00%t\x00", o.Name, o.Description, o.Type, o.Required)
		}
		h.Write([]byte{1})
	}
	return h.Sum64()
}

var optionTypes = map[string]discordgo.ApplicationCommandOptionType{
	"string":      discordgo.ApplicationCommandOptionString,
	"integer":     discordgo.ApplicationCommandOptionInteger,
	"number":      discordgo.ApplicationCommandOptionNumber,
	"boolean":     discordgo.ApplicationCommandOptionBoolean,
	"user":        discordgo.ApplicationCommandOptionUser,
	"channel":     discordgo.ApplicationCommandOptionChannel,
	"role":        discordgo.ApplicationCommandOptionRole,
	"mentionable": discordgo.ApplicationCommandOptionMentionable,
}

func applicationCommands(specs []kit.CommandSpec) ([]*discordgo.ApplicationCommand, error) {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, c := range specs {
		ac := &discordgo.ApplicationCommand{
			Type:        discordgo.ChatApplicationCommand,
			Name:        c.Name,
			Description: c.Description,
		}
		for _, o := range c.Options {
			t, ok := optionTypes[strings.ToLower(strings.TrimSpace(o.Type))]
			if !ok {
				return nil, fmt.Errorf("discord: command %q option %q: unknown type %q", c.Name, o.Name, o.Type)
			}
			ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
				Type:        t,
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			})
		}
		out = append(out, ac)
	}
	return out, nil
}

func messageFromEvent(m *discordgo.Message) *kit.Message {
	msg := &kit.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		// Webhook posts have no bot flag but are still automated.
		AuthorIsBot: m.WebhookID != "",
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorTag = m.Author.String()
		msg.AuthorIsBot = msg.AuthorIsBot || m.Author.Bot
	}
	for _, at := range m.Attachments {
		if at != nil && at.URL != "" {
			msg.AttachmentURLs = append(msg.AttachmentURLs, at.URL)
		}
	}
	return msg
}

func commandFromInteraction(in *discordgo.Interaction) *kit.Command {
	cmd := &kit.Command{
		InteractionID: in.ID,
		ChannelID:     in.ChannelID,
		GuildID:       in.GuildID,
		Raw:           in,
	}
	user := in.User
	if in.Member != nil && in.Member.User != nil {
		user = in.Member.User
	}
	if user != nil {
		cmd.UserID = user.ID
		cmd.UserTag = user.String()
		cmd.UserIsBot = user.Bot
	}

	data, ok := in.Data.(discordgo.ApplicationCommandInteractionData)
	if !ok {
		return cmd
	}
	name, opts := data.Name, data.Options
	// Fold sub-command groups and sub-commands into the name.
	for len(opts) == 1 && opts[0] != nil &&
		(opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
			opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		name += " " + opts[0].Name
		opts = opts[0].Options
	}
	cmd.Name = name
	for _, o := range opts {
		if o == nil {
			continue
		}
		cmd.Options = append(cmd.Options, kit.CommandOption{Name: o.Name, Value: o.Value, HasValue: o.Value != nil})
	}
	return cmd
}

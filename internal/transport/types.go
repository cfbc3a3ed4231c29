package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateCommand UpdateKind = "command"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Command *Command
}

// Message is a channel message as seen on the gateway.
type Message struct {
	ID             string
	ChannelID      string
	GuildID        string
	AuthorID       string
	AuthorTag      string
	AuthorIsBot    bool
	Content        string
	AttachmentURLs []string
}

// Command is a slash-command invocation. Sub-command names are already folded
// into Name ("admin ban").
type Command struct {
	InteractionID string
	ChannelID     string
	GuildID       string
	UserID        string
	UserTag       string
	UserIsBot     bool
	Name          string
	Options       []CommandOption

	// Raw is the adapter-specific interaction (Discord: *discordgo.Interaction),
	// needed to answer the invocation.
	Raw any
}

type CommandOption struct {
	Name     string
	Value    any
	HasValue bool
}

// CommandSpec describes a slash command to register with the platform.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOptionSpec
}

type CommandOptionSpec struct {
	Name        string
	Description string
	Type        string
	Required    bool
}

// TextSender posts plain text to a channel.
type TextSender interface {
	SendText(ctx context.Context, channelID, text string) error
}

type Adapter interface {
	TextSender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	RespondCommand(ctx context.Context, cmd *Command, text string, ephemeral bool) error
}

// CommandRegistrar is an optional interface that adapters can implement
// to publish platform slash-command definitions.
type CommandRegistrar interface {
	UpdateCommands(ctx context.Context, cmds []CommandSpec) error
}

// ReadyNotifier is an optional interface for adapters that can report when
// their gateway session is usable.
type ReadyNotifier interface {
	Ready() <-chan struct{}
}

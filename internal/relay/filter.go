package relay

import (
	"strings"

	kit "discordrelay/internal/transport"
)

// Rejection reasons, also used as metric labels.
const (
	ReasonBotAuthor         = "bot_author"
	ReasonAllowListEmpty    = "allow_list_empty"
	ReasonChannelNotAllowed = "channel_not_allowed"
	ReasonMalformed         = "malformed"
)

type Decision struct {
	Accept bool
	Reason string
}

// Filter decides whether an update is eligible for forwarding.
// It is immutable; config reloads build a new one.
type Filter struct {
	channels map[string]struct{}
}

func NewFilter(channels []string) *Filter {
	f := &Filter{channels: make(map[string]struct{}, len(channels))}
	for _, id := range channels {
		if id = strings.TrimSpace(id); id != "" {
			f.channels[id] = struct{}{}
		}
	}
	return f
}

// Size returns the number of allowed channels.
func (f *Filter) Size() int {
	if f == nil {
		return 0
	}
	return len(f.channels)
}

func (f *Filter) Allowed(channelID string) bool {
	if f == nil {
		return false
	}
	_, ok := f.channels[channelID]
	return ok
}

// Check applies, in order: automated-author rejection, the empty allow-list
// guard, and exact channel membership.
func (f *Filter) Check(up kit.Update) Decision {
	var (
		channelID string
		isBot     bool
	)
	switch {
	case up.Kind == kit.UpdateMessage && up.Message != nil:
		channelID, isBot = up.Message.ChannelID, up.Message.AuthorIsBot
	case up.Kind == kit.UpdateCommand && up.Command != nil:
		channelID, isBot = up.Command.ChannelID, up.Command.UserIsBot
	default:
		return Decision{Reason: ReasonMalformed}
	}

	if isBot {
		return Decision{Reason: ReasonBotAuthor}
	}
	if f.Size() == 0 {
		return Decision{Reason: ReasonAllowListEmpty}
	}
	if !f.Allowed(channelID) {
		return Decision{Reason: ReasonChannelNotAllowed}
	}
	return Decision{Accept: true}
}

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	kit "discordrelay/internal/transport"
)

func msgUpdate(channelID string, bot bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: "m1", ChannelID: channelID, AuthorID: "u1", AuthorIsBot: bot, Content: "hi",
	}}
}

func cmdUpdate(channelID string, bot bool) kit.Update {
	return kit.Update{Kind: kit.UpdateCommand, Command: &kit.Command{
		InteractionID: "i1", ChannelID: channelID, UserID: "u1", UserIsBot: bot, Name: "ping",
	}}
}

func TestFilterCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		channels []string
		up       kit.Update
		want     Decision
	}{
		{name: "allowed message", channels: []string{"c1"}, up: msgUpdate("c1", false), want: Decision{Accept: true}},
		{name: "allowed command", channels: []string{"c1", "c2"}, up: cmdUpdate("c2", false), want: Decision{Accept: true}},
		{name: "other channel", channels: []string{"c1"}, up: msgUpdate("c9", false), want: Decision{Reason: ReasonChannelNotAllowed}},
		{name: "bot author", channels: []string{"c1"}, up: msgUpdate("c1", true), want: Decision{Reason: ReasonBotAuthor}},
		{name: "bot wins over empty list", channels: nil, up: cmdUpdate("c1", true), want: Decision{Reason: ReasonBotAuthor}},
		{name: "empty list", channels: nil, up: msgUpdate("c1", false), want: Decision{Reason: ReasonAllowListEmpty}},
		{name: "blank ids only", channels: []string{" ", ""}, up: msgUpdate("c1", false), want: Decision{Reason: ReasonAllowListEmpty}},
		{name: "ids are trimmed", channels: []string{" c1 "}, up: msgUpdate("c1", false), want: Decision{Accept: true}},
		{name: "no prefix matching", channels: []string{"c1"}, up: msgUpdate("c10", false), want: Decision{Reason: ReasonChannelNotAllowed}},
		{name: "missing payload", channels: []string{"c1"}, up: kit.Update{Kind: kit.UpdateMessage}, want: Decision{Reason: ReasonMalformed}},
		{name: "unknown kind", channels: []string{"c1"}, up: kit.Update{Kind: "reaction"}, want: Decision{Reason: ReasonMalformed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewFilter(tt.channels).Check(tt.up))
		})
	}
}

func TestFilterSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2, NewFilter([]string{"a", "b", "a", ""}).Size())

	var nilFilter *Filter
	assert.Equal(t, 0, nilFilter.Size())
	assert.False(t, nilFilter.Allowed("a"))
}

package relay

// EnvelopeType tags the kind of event an envelope was built from.
type EnvelopeType string

const (
	TypeChannelMessage EnvelopeType = "channel_message"
	TypeSlashCommand   EnvelopeType = "slash_command"
)

// Envelope is the flat JSON record posted to the webhook.
type Envelope struct {
	Type          EnvelopeType `json:"type"`
	UserID        string       `json:"userId"`
	Message       string       `json:"message"`
	ChannelID     string       `json:"channelId"`
	MessageID     string       `json:"messageId,omitempty"`
	InteractionID string       `json:"interactionId,omitempty"`
}

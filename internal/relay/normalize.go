package relay

import (
	"fmt"
	"strconv"
	"strings"

	kit "discordrelay/internal/transport"
)

const (
	noTextContent = "[No text content]"
	emptyOption   = "[empty]"
)

// Normalize converts an accepted update into an envelope.
// ok is false for updates that carry neither a message nor a command.
func Normalize(up kit.Update) (Envelope, bool) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return Envelope{}, false
		}
		return NormalizeMessage(up.Message), true
	case kit.UpdateCommand:
		if up.Command == nil {
			return Envelope{}, false
		}
		return NormalizeCommand(up.Command), true
	default:
		return Envelope{}, false
	}
}

func NormalizeMessage(m *kit.Message) Envelope {
	return Envelope{
		Type:      TypeChannelMessage,
		UserID:    m.AuthorID,
		Message:   MessageText(m.Content, m.AttachmentURLs),
		ChannelID: m.ChannelID,
		MessageID: m.ID,
	}
}

func NormalizeCommand(c *kit.Command) Envelope {
	return Envelope{
		Type:          TypeSlashCommand,
		UserID:        c.UserID,
		Message:       CommandText(c.Name, c.Options),
		ChannelID:     c.ChannelID,
		InteractionID: c.InteractionID,
	}
}

// MessageText returns the trimmed content, or a placeholder describing the
// attachments when there is no text.
func MessageText(content string, attachmentURLs []string) string {
	if text := strings.TrimSpace(content); text != "" {
		return text
	}
	if len(attachmentURLs) > 0 {
		return "[Attachment(s): " + strings.Join(attachmentURLs, ", ") + "]"
	}
	return noTextContent
}

// CommandText renders "/name opt: value, opt2: value2".
func CommandText(name string, opts []kit.CommandOption) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(name)
	for i, o := range opts {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Name)
		b.WriteString(": ")
		b.WriteString(optionValue(o))
	}
	return b.String()
}

func optionValue(o kit.CommandOption) string {
	if !o.HasValue || o.Value == nil {
		return emptyOption
	}
	var v string
	switch x := o.Value.(type) {
	case float64:
		// Gateway JSON decodes every number as float64; print it as a plain decimal.
		v = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		v = strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		v = fmt.Sprint(o.Value)
	}
	if v == "" {
		return emptyOption
	}
	return v
}

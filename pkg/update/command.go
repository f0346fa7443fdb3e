package update

import (
	"strings"
	"unicode/utf16"
)

// Command is a bot command found in a message.
type Command struct {
	// Name is the command without the leading slash or bot suffix, lowercased.
	Name string
	// Bot is the @botname suffix without the "@", empty when absent.
	Bot string
	// Args is the text following the command token, trimmed.
	Args string
}

// Commands returns every bot_command entity in the message, normalized.
func (m *Message) Commands() []Command {
	if m == nil {
		return nil
	}
	var out []Command
	for _, ent := range m.Entities {
		if ent.Type != EntityBotCommand {
			continue
		}
		token := EntityText(m.Text, ent.Offset, ent.Length)
		cmd, ok := ParseCommand(token)
		if !ok {
			continue
		}
		cmd.Args = strings.TrimSpace(EntityText(m.Text, ent.Offset+ent.Length, len(utf16.Encode([]rune(m.Text)))))
		out = append(out, cmd)
	}
	return out
}

// ParseCommand normalizes a "/command" or "/command@botname" token.
func ParseCommand(token string) (Command, bool) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, "/") {
		return Command{}, false
	}
	token = token[1:]
	name, bot, _ := strings.Cut(token, "@")
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Bot: bot}, true
}

// EntityText safely extracts a substring from text using UTF-16 offsets,
// which is what Telegram uses for entity offsets and lengths.
func EntityText(text string, offset, length int) string {
	encoded := utf16.Encode([]rune(text))
	if offset < 0 || offset >= len(encoded) || length <= 0 {
		return ""
	}
	end := offset + length
	if end > len(encoded) {
		end = len(encoded)
	}
	return string(utf16.Decode(encoded[offset:end]))
}

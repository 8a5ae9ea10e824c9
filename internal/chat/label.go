package chat

import (
	"strings"

	"github.com/conversekit/chat-gateway/internal/store"
)

const (
	labelNameLimit        = 80
	labelDescriptionLimit = 200
	labelUserMessageCount = 3

	defaultConversationName = "New conversation"
)

// deriveLabel produces the short name and longer description shown in the
// conversation sidebar, from the first few user-authored messages.
func deriveLabel(messages []store.Message) (name, description string) {
	var texts []string
	for _, msg := range messages {
		if msg.Type != store.MessageTypeUser {
			continue
		}
		texts = append(texts, msg.Text)
		if len(texts) == labelUserMessageCount {
			break
		}
	}
	joined := strings.Join(texts, " ")

	name = truncate(joined, labelNameLimit)
	if name == "" {
		name = defaultConversationName
	}
	description = truncate(joined, labelDescriptionLimit)
	return name, description
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// Package history holds the pure reducers that bound conversation history
// by message count and by cumulative character budget, and the builder that
// assembles the outbound request from them.
package history

import (
	"unicode/utf8"

	"github.com/sk0pp/ollabot/internal/client"
)

// filterTurns keeps only user and assistant entries, dropping any injected
// system instruction, in original order.
func filterTurns(messages []client.Message) []client.Message {
	kept := make([]client.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == client.RoleUser || m.Role == client.RoleAssistant {
			kept = append(kept, m)
		}
	}
	return kept
}

// TrimByCount keeps the last maxMessages user/assistant entries in
// chronological order.
func TrimByCount(messages []client.Message, maxMessages int) []client.Message {
	kept := filterTurns(messages)
	if len(kept) > maxMessages {
		kept = kept[len(kept)-maxMessages:]
	}
	return kept
}

// TrimByChars keeps the longest chronological suffix of user/assistant
// entries whose cumulative character length fits within maxChars. The entry
// that would cross the budget is excluded entirely, never split.
func TrimByChars(messages []client.Message, maxChars int) []client.Message {
	kept := filterTurns(messages)
	total := 0
	cut := 0
	for i := len(kept) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(kept[i].Content)
		if total+n > maxChars {
			cut = i + 1
			break
		}
		total += n
	}
	return kept[cut:]
}

// BuildRequest assembles the message list for one backend call: the system
// instruction, then the history trimmed by count and then by character
// budget, then the new user message. Char-trim runs after count-trim so it
// can only shrink the selection further.
func BuildRequest(systemPrompt string, messages []client.Message, maxMessages, maxChars int, userText string) []client.Message {
	trimmed := TrimByChars(TrimByCount(messages, maxMessages), maxChars)

	request := make([]client.Message, 0, len(trimmed)+2)
	request = append(request, client.Message{Role: client.RoleSystem, Content: systemPrompt})
	request = append(request, trimmed...)
	request = append(request, client.Message{Role: client.RoleUser, Content: userText})
	return request
}

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/netko/covenote/internal/llm"
)

// Token estimation is a deliberate approximation: word count scaled by a
// constant, not a real tokenizer. It under/over-estimates for non-English or
// code-heavy content; good enough to keep histories under context limits.
const wordsToTokens = 1.3

const (
	summaryPrefix = "Previous conversation summary: "

	summarySystemPrompt = "You are a summarization assistant. Condense the following conversation " +
		"into a compact summary that preserves facts, decisions, names and open questions. " +
		"Reply with the summary only."

	titleSystemPrompt = "Generate a short title (3-6 words) for a conversation that starts with " +
		"the following message. Reply with the title only, no quotes."
)

// EstimateTokens approximates the token cost of a message list.
func EstimateTokens(msgs []llm.Message) int {
	words := 0
	for _, m := range msgs {
		words += len(strings.Fields(m.Content))
	}
	return int(float64(words) * wordsToTokens)
}

func toProviderMessages(history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// needsSummary reports whether the history estimate exceeds the configured
// fraction of the model's context window.
func needsSummary(history []Message, contextWindow int, threshold float64) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(EstimateTokens(toProviderMessages(history))) > float64(contextWindow)*threshold
}

// splitForSummary separates the history into the part to condense and the
// newest keepTail messages kept verbatim.
func splitForSummary(history []Message, keepTail int) (toSummarize, toKeep []Message) {
	if len(history) <= keepTail {
		return nil, history
	}
	cut := len(history) - keepTail
	return history[:cut], history[cut:]
}

// summarize condenses the given messages into one paragraph via the
// auxiliary provider call.
func summarize(ctx context.Context, provider llm.Provider, msgs []Message) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	summary, err := provider.Chat(ctx, []llm.Message{
		{Role: RoleSystem, Content: summarySystemPrompt},
		{Role: RoleUser, Content: b.String()},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// generateTitle produces a 3-6 word title from the first user message.
func generateTitle(ctx context.Context, provider llm.Provider, firstMessage string) (string, error) {
	title, err := provider.Chat(ctx, []llm.Message{
		{Role: RoleSystem, Content: titleSystemPrompt},
		{Role: RoleUser, Content: firstMessage},
	})
	if err != nil {
		return "", err
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	words := strings.Fields(title)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " "), nil
}

package provider

import "strings"

// ExtractSystemPrompt pulls every "system" role message out of messages,
// joins their text with newlines, and returns the remaining messages
// untouched. Anthropic and Gemini both want the system prompt lifted into
// its own top-level field instead of living in the message array — this is
// the one piece of translation logic both adapters share.
func ExtractSystemPrompt(messages []Message) (system string, rest []Message) {
	var systemParts []string
	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content.PlainText())
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(systemParts, "\n"), rest
}

// NormalizeAlternation enforces the strict user/otherRole turn-taking that
// Anthropic and Gemini both require once the system prompt has already been
// extracted: the conversation must start with "user", and roles must
// strictly alternate. Two fixes are applied:
//
//  1. If the first message isn't "user", a synthetic empty-content "user"
//     message is prepended.
//  2. Consecutive messages carrying the same role are merged into one,
//     concatenating their text with a newline, instead of being sent as
//     two back-to-back turns the upstream API would reject.
//
// otherRole is the non-user role name the provider expects ("assistant"
// for Anthropic, "model" for Gemini); callers are expected to have already
// mapped roles into {"user", otherRole} before calling this.
func NormalizeAlternation(messages []Message, otherRole string) []Message {
	if len(messages) == 0 {
		return []Message{{Role: "user", Content: Content{Text: ""}}}
	}

	out := make([]Message, 0, len(messages)+1)

	if messages[0].Role != "user" {
		out = append(out, Message{Role: "user", Content: Content{Text: ""}})
	}

	for _, msg := range messages {
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			merged := out[len(out)-1]
			merged.Content = mergeContent(merged.Content, msg.Content)
			out[len(out)-1] = merged
			continue
		}
		out = append(out, msg)
	}

	return out
}

// mergeContent concatenates two Content values as plain text joined by a
// newline. Used only by NormalizeAlternation's same-role merge, where the
// upstream APIs this package targets only ever need flattened text.
func mergeContent(a, b Content) Content {
	return Content{Text: a.PlainText() + "\n" + b.PlainText()}
}

// MapRole rewrites "assistant" to replacement and leaves every other role
// unchanged. Gemini calls the assistant turn "model"; Anthropic doesn't
// need this at all (it already calls it "assistant").
func MapRole(messages []Message, replacement string) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.Role == "assistant" {
			m.Role = replacement
		}
		out[i] = m
	}
	return out
}

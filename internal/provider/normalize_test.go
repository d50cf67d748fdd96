package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func text(role, content string) Message {
	return Message{Role: role, Content: Content{Text: content}}
}

func TestExtractSystemPrompt(t *testing.T) {
	messages := []Message{
		text("system", "be concise"),
		text("user", "hi"),
		text("system", "stay polite"),
		text("assistant", "hello"),
	}

	system, rest := ExtractSystemPrompt(messages)

	assert.Equal(t, "be concise\nstay polite", system)
	assert.Len(t, rest, 2)
	assert.Equal(t, "user", rest[0].Role)
	assert.Equal(t, "assistant", rest[1].Role)
}

func TestNormalizeAlternation_PrependsSyntheticUser(t *testing.T) {
	messages := []Message{text("assistant", "hello there")}

	out := NormalizeAlternation(messages, "assistant")

	assert.Len(t, out, 2)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "", out[0].Content.PlainText())
	assert.Equal(t, "assistant", out[1].Role)
}

func TestNormalizeAlternation_MergesConsecutiveSameRole(t *testing.T) {
	messages := []Message{
		text("user", "first"),
		text("user", "second"),
		text("assistant", "reply"),
	}

	out := NormalizeAlternation(messages, "assistant")

	assert.Len(t, out, 2)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "first\nsecond", out[0].Content.PlainText())
	assert.Equal(t, "assistant", out[1].Role)
}

func TestNormalizeAlternation_AlreadyAlternatingUnchanged(t *testing.T) {
	messages := []Message{
		text("user", "hi"),
		text("assistant", "hello"),
		text("user", "how are you"),
	}

	out := NormalizeAlternation(messages, "assistant")

	assert.Len(t, out, 3)
	assert.Equal(t, []string{"user", "assistant", "user"}, []string{out[0].Role, out[1].Role, out[2].Role})
}

func TestMapRole_RewritesAssistantToModel(t *testing.T) {
	messages := []Message{text("user", "hi"), text("assistant", "hello")}

	out := MapRole(messages, "model")

	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "model", out[1].Role)
}

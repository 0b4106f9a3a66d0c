package openrouter

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

type factoidPayload struct {
	Text    string `json:"text"`
	Subject string `json:"subject"`
	Emoji   string `json:"emoji"`
}

// parseFactoid extracts the factoid fields from model output. Models often
// wrap the JSON in a fenced code block; some skip JSON entirely, in which
// case the whole content becomes the text.
func parseFactoid(content string) (factoidPayload, bool) {
	content = strings.TrimSpace(content)

	candidate := content
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var payload factoidPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err == nil && payload.Text != "" {
		return payload, true
	}

	return factoidPayload{Text: content}, false
}

package openrouter

import "testing"

func TestParseFactoid(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantText   string
		wantEmoji  string
		structured bool
	}{
		{
			name:       "plain json",
			content:    `{"text": "Bananas are berries.", "subject": "Botany", "emoji": "🍌"}`,
			wantText:   "Bananas are berries.",
			wantEmoji:  "🍌",
			structured: true,
		},
		{
			name:       "fenced json block",
			content:    "```json\n{\"text\": \"Wombats have cube-shaped poop.\", \"subject\": \"Zoology\", \"emoji\": \"💩\"}\n```",
			wantText:   "Wombats have cube-shaped poop.",
			wantEmoji:  "💩",
			structured: true,
		},
		{
			name:       "fenced without language tag",
			content:    "```\n{\"text\": \"Oxford predates the Aztec empire.\", \"subject\": \"History\", \"emoji\": \"🏛️\"}\n```",
			wantText:   "Oxford predates the Aztec empire.",
			wantEmoji:  "🏛️",
			structured: true,
		},
		{
			name:       "fenced json with surrounding chatter",
			content:    "Sure, here you go:\n```json\n{\"text\": \"Hot water freezes faster.\", \"subject\": \"Physics\", \"emoji\": \"🧊\"}\n```\nEnjoy!",
			wantText:   "Hot water freezes faster.",
			wantEmoji:  "🧊",
			structured: true,
		},
		{
			name:       "bare text fallback",
			content:    "Sharks are older than trees.",
			wantText:   "Sharks are older than trees.",
			structured: false,
		},
		{
			name:       "json missing text falls back to raw",
			content:    `{"subject": "Space"}`,
			wantText:   `{"subject": "Space"}`,
			structured: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, structured := parseFactoid(tt.content)
			if got.Text != tt.wantText {
				t.Errorf("text: got %q, want %q", got.Text, tt.wantText)
			}
			if got.Emoji != tt.wantEmoji {
				t.Errorf("emoji: got %q, want %q", got.Emoji, tt.wantEmoji)
			}
			if structured != tt.structured {
				t.Errorf("structured: got %v, want %v", structured, tt.structured)
			}
		})
	}
}

func TestHeuristicTokens(t *testing.T) {
	if got := heuristicTokens(""); got != 1 {
		t.Errorf("empty string: got %d, want 1", got)
	}
	if got := heuristicTokens("12345678"); got != 2 {
		t.Errorf("8 bytes: got %d, want 2", got)
	}
}

package factoid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientContext means the prompt cannot be built: no topic was
// given and the record store has no examples to steer the model.
var ErrInsufficientContext = errors.New("no topic and no recent factoids to build a prompt from")

// defaultPromptExamples caps how many recent factoids seed the prompt.
const defaultPromptExamples = 25

// BuildPrompt assembles the generation prompt: recent factoids with their
// vote counts as few-shot examples, the instruction, the writing guidelines,
// and the JSON response contract.
func BuildPrompt(topic string, recent []Factoid) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" && len(recent) == 0 {
		return "", ErrInsufficientContext
	}

	var b strings.Builder

	if len(recent) > 0 {
		b.WriteString("Here are some recent examples of interesting factoids " +
			"(note the votes up and down counts which comes from user feedback):\n\n")
		b.WriteString("## Examples:\n")
		for i, f := range recent {
			if i >= defaultPromptExamples {
				break
			}
			fmt.Fprintf(&b, "- **%s**: %s (votes up: %d, votes down: %d)\n",
				f.Subject, f.Text, f.VotesUp, f.VotesDown)
		}
		b.WriteString("\n")
	}

	if topic != "" {
		fmt.Fprintf(&b, "Please provide a new, concise, interesting fact about %s "+
			"in one sentence, along with its subject and an emoji that represents the fact.\n\n", topic)
	} else {
		b.WriteString("Please provide a new, concise, interesting fact in one sentence, " +
			"along with its subject and an emoji that represents the fact.\n\n")
	}

	b.WriteString(strings.Join([]string{
		"- Do not repeat any of the provided examples.",
		"- Avoid boilerplate phrases like 'Did you know'.",
		"- Keep it to one sentence with minimal commentary.",
		"- Avoid discussing what a fact 'showcases' or 'highlights'.",
		"- Avoid overused topics like jellyfish, octopus, or whales unless specifically requested.",
		"- Think about novel and intriguing facts that people might not know.",
		"- Make it genuinely surprising or mind-blowing.",
	}, "\n"))
	b.WriteString("\n\n")

	b.WriteString("Respond as JSON with exactly these keys:\n")
	b.WriteString(`{"text": "your factoid text", "subject": "category/topic", "emoji": "<some suitable emoji>"}`)

	return b.String(), nil
}

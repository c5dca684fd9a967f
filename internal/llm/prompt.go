package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chris/shadow/internal/category"
)

// DefaultRules disambiguates the categories the model confuses most.
const DefaultRules = `Hobbies = skill-building or long-term interests.
Leisure = passive or unstructured consumption.
Do not reassure unless behavior supports it.`

const persona = `You are a stoic, compassionate, yet firm accountability coach.
The user is fighting a self-sabotaging voice called 'The Liar'.`

// ClassifierPrompt builds the system prompt for one classification. Weights
// are listed highest first.
func ClassifierPrompt(priorities map[category.Category]int, rules string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "User priorities (higher = more important): %s\n\n", formatPriorities(priorities))
	if rules = strings.TrimSpace(rules); rules != "" {
		b.WriteString(rules)
		b.WriteString("\n\n")
	}
	b.WriteString("Your task:\n")
	fmt.Fprintf(&b, "1. CLASSIFY the activity into exactly one of: %s.\n", strings.Join(category.Names(), ", "))
	b.WriteString("2. RESPONSE (1–2 sentences):\n")
	b.WriteString("- Reinforce aligned behavior briefly.\n")
	b.WriteString("- If misaligned with priorities, state the consequence plainly.")
	return b.String()
}

// ClassifierInput wraps the user's text with the output contract.
func ClassifierInput(text string) string {
	return fmt.Sprintf("Input: %q\n\nOutput JSON only: {\"category\": \"...\", \"response\": \"...\"}\nEnd your response strictly with %s", text, EndMarker)
}

func formatPriorities(priorities map[category.Category]int) string {
	cats := make([]category.Category, 0, len(priorities))
	for cat := range priorities {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		wi, wj := priorities[cats[i]], priorities[cats[j]]
		if wi != wj {
			return wi > wj
		}
		return category.Index(cats[i]) < category.Index(cats[j])
	})
	parts := make([]string, len(cats))
	for i, cat := range cats {
		parts[i] = fmt.Sprintf("%s:%d", cat, priorities[cat])
	}
	return strings.Join(parts, ", ")
}

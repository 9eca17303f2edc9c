package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/comigor/healthchat-go/internal/history"
)

const defaultSystemPrompt = `You are a healthcare assistant chatbot.

Rules:
- Greet the user by name.
- Ask about symptoms politely.
- Give possible causes, not diagnosis.
- Suggest home remedies & lifestyle advice.
- Never prescribe medicine or dosages.
- Recommend seeing a doctor if symptoms are severe.`

// SystemPrompt builds the system message from the base rules, the user's
// health profile and, when known, the nearby facility list.
func SystemPrompt(base string, p history.Profile, facilities string) string {
	if base == "" {
		base = defaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nUser profile:\n")
	fmt.Fprintf(&b, "Name: %s\n", orUnknown(p.Name))
	fmt.Fprintf(&b, "Age: %s\n", orUnknown(number(float64(p.Age))))
	fmt.Fprintf(&b, "Height: %s cm\n", orUnknown(number(p.Height)))
	fmt.Fprintf(&b, "Weight: %s kg\n", orUnknown(number(p.Weight)))
	optional(&b, "Gender", p.Gender)
	optional(&b, "Blood group", p.BloodGroup)
	optional(&b, "Known conditions", strings.Join(p.Conditions, ", "))
	optional(&b, "Allergies", strings.Join(p.Allergies, ", "))
	optional(&b, "Smoking", p.Smoking)
	optional(&b, "Alcohol", p.Alcohol)
	optional(&b, "Activity level", p.ActivityLevel)

	if facilities != "" {
		b.WriteString("\nNearby hospitals & clinics:\n")
		b.WriteString(facilities)
		b.WriteString("\n")
	}
	return b.String()
}

func optional(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func number(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

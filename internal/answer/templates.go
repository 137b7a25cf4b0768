package answer

import (
	"fmt"

	"finsight/internal/intent"
)

// Templates holds the fixed replies for intents that never reach retrieval.
type Templates struct {
	Assistant       string
	DeveloperCredit string
}

func greetName(name string) string {
	if name == "" {
		return ""
	}
	return " " + name
}

// For returns the templated reply for in, or "" when in is not templated.
func (t Templates) For(in intent.Intent, userName string) string {
	switch in {
	case intent.Greeting:
		return fmt.Sprintf("Hello%s! I'm %s. Ask me about income, expenses, pending payments or how this year compares with earlier ones.", greetName(userName), t.Assistant)
	case intent.Identity:
		return fmt.Sprintf("I'm %s, an assistant that answers questions about the committee's current and past financial records.", t.Assistant)
	case intent.Developer:
		credit := t.DeveloperCredit
		if credit == "" {
			credit = "the committee's volunteer tech team"
		}
		return fmt.Sprintf("%s was built by %s.", t.Assistant, credit)
	case intent.Advice:
		return "I can share what the records show, but I don't give financial advice. Try asking for totals, pending payments or a comparison between two years."
	}
	return ""
}

// Apology is returned whenever the generative path fails.
func Apology(userName string) string {
	if userName == "" {
		return "Sorry, I couldn't work that out right now. Please try again in a moment."
	}
	return fmt.Sprintf("Sorry %s, I couldn't work that out right now. Please try again in a moment.", userName)
}

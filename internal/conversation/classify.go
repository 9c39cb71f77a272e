package conversation

import "strings"

var philosophyKeywords = []string{
	"philosophy", "ethics", "morality", "existence", "consciousness", "stoicism",
	"kant", "aristotle", "plato", "epistemology", "metaphysics",
}

var historyKeywords = []string{
	"history", "war", "empire", "civilization", "ancient", "medieval",
	"renaissance", "revolution", "historical", "century",
}

// Classify assigns a category by substring keyword match on the lower-cased text.
// Philosophy keywords are checked first, so text matching both sets is philosophy.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	if containsAny(lower, philosophyKeywords) {
		return CategoryPhilosophy
	}
	if containsAny(lower, historyKeywords) {
		return CategoryHistory
	}
	return CategoryGeneral
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

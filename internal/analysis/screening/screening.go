package screening

import "strings"

// Category is a solicitation class that ends a phone call on first mention.
type Category string

const (
	None       Category = ""
	Warranty   Category = "warranty"
	Insurance  Category = "insurance"
	DebtRelief Category = "debt_relief"
	CreditCard Category = "credit_card"
	Timeshare  Category = "timeshare"
)

// Decision is the outcome of screening one caller utterance.
type Decision struct {
	Category Category
	Score    int
}

// Spam reports whether the utterance should end the call.
func (d Decision) Spam() bool {
	return d.Category != None && d.Score >= spamThreshold
}

// One phrase scores phraseWeight and stays below the threshold; it takes a
// second phrase or a pressure word on top of it to hang up.
const (
	phraseWeight   = 2
	pressureWeight = 1
	spamThreshold  = 3
)

var phraseBuckets = map[Category][]string{
	Warranty: {
		"car warranty", "extended warranty", "vehicle warranty", "auto warranty",
		"vehicle service contract", "warranty is about to expire", "warranty has expired",
	},
	Insurance: {
		"insurance offer", "insurance quote", "lower your insurance", "save on your insurance",
		"final expense insurance",
	},
	DebtRelief: {
		"debt relief", "consolidate your debt", "reduce your debt", "qualify for debt",
	},
	CreditCard: {
		"credit card offer", "lower your interest rate", "lower your credit card", "credit card interest",
	},
	Timeshare: {
		"timeshare", "vacation ownership", "vacation club",
	},
}

var pressureWords = []string{
	"limited time", "act now", "special offer", "final notice", "press 1", "you've been selected",
	"you qualify", "free quote",
}

// Analyze classifies a caller utterance. Matching is case-insensitive substring search.
func Analyze(utterance string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return Decision{}
	}

	scores := make(map[Category]int)
	for category, phrases := range phraseBuckets {
		for _, phrase := range phrases {
			if strings.Contains(normalized, phrase) {
				scores[category] += phraseWeight
			}
		}
	}

	pressure := 0
	for _, word := range pressureWords {
		if strings.Contains(normalized, word) {
			pressure += pressureWeight
		}
	}

	best := None
	bestScore := 0
	for _, category := range []Category{Warranty, Insurance, DebtRelief, CreditCard, Timeshare} {
		if s := scores[category]; s > bestScore {
			best, bestScore = category, s
		}
	}
	if best == None {
		return Decision{}
	}
	return Decision{Category: best, Score: bestScore + pressure}
}

package resolver

import (
	"strings"

	"github.com/webpilot-ai/webpilot/driver"
)

// Deterministic scoring weights for the rule tier. The tier is a pure
// function of the element list and the description, so it works with no
// reasoning service at all.
const (
	weightTextContains = 30
	weightTextSimilar  = 25
	weightPlaceholder  = 20
	weightAriaLabel    = 20
	weightTitle        = 15
	weightTypeKeyword  = 15
	weightPosition     = 10

	similarityFloor  = 0.6
	mediumScoreFloor = 20
	topOfPageMaxY    = 700
)

// typeKeywords maps description words to the element tags and input types
// they imply. The list is ordered so scoring is a pure function of the
// description and the element: the first keyword in this order that appears
// in the description and matches the element scores, once.
var typeKeywords = []struct {
	word  string
	kinds []string
}{
	{"button", []string{"button", "submit"}},
	{"submit", []string{"button", "submit"}},
	{"link", []string{"a"}},
	{"input", []string{"input", "textarea", "text"}},
	{"field", []string{"input", "textarea", "text"}},
	{"search", []string{"input", "search", "text"}},
	{"email", []string{"input", "email"}},
	{"password", []string{"input", "password"}},
	{"checkbox", []string{"input", "checkbox"}},
	{"dropdown", []string{"select"}},
	{"select", []string{"select"}},
	{"menu", []string{"select", "a"}},
	{"image", []string{"img"}},
	{"textarea", []string{"textarea"}},
}

// scoreElements picks the highest-scoring element for a description, or nil
// when nothing scores above zero. Ties keep the earliest element, which is
// the one highest on the page.
func scoreElements(elements []driver.PageElement, description string) *Resolution {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return nil
	}

	var (
		best      *driver.PageElement
		bestScore int
	)
	for i := range elements {
		score := scoreElement(&elements[i], desc)
		if score > bestScore {
			best = &elements[i]
			bestScore = score
		}
	}
	if best == nil || best.Selector == "" {
		return nil
	}

	conf := ConfidenceLow
	if bestScore > mediumScoreFloor {
		conf = ConfidenceMedium
	}
	return &Resolution{
		Selector:   best.Selector,
		Tier:       TierRules,
		Confidence: conf,
	}
}

func scoreElement(el *driver.PageElement, desc string) int {
	score := 0

	text := strings.ToLower(el.Text)
	switch {
	case text != "" && (strings.Contains(text, desc) || strings.Contains(desc, text)):
		score += weightTextContains
	case text != "":
		if sim := lcsSimilarity(text, desc); sim > similarityFloor {
			score += int(sim * weightTextSimilar)
		}
	}

	if p := strings.ToLower(el.Placeholder); p != "" && sharesWord(p, desc) {
		score += weightPlaceholder
	}
	if a := strings.ToLower(el.AriaLabel); a != "" && sharesWord(a, desc) {
		score += weightAriaLabel
	}
	if ti := strings.ToLower(el.Title); ti != "" && sharesWord(ti, desc) {
		score += weightTitle
	}

keywords:
	for _, kw := range typeKeywords {
		if !strings.Contains(desc, kw.word) {
			continue
		}
		for _, kind := range kw.kinds {
			if el.Tag == kind || el.Type == kind {
				score += weightTypeKeyword
				break keywords
			}
		}
	}

	if score > 0 && el.Box.Y >= 0 && el.Box.Y < topOfPageMaxY {
		score += weightPosition
	}
	return score
}

// sharesWord reports whether any word of at least three characters appears
// in both strings.
func sharesWord(a, b string) bool {
	for _, w := range strings.Fields(a) {
		if len(w) >= 3 && strings.Contains(b, w) {
			return true
		}
	}
	for _, w := range strings.Fields(b) {
		if len(w) >= 3 && strings.Contains(a, w) {
			return true
		}
	}
	return false
}

// lcsSimilarity is the longest-common-subsequence length of the two strings
// normalized by the longer length, in [0, 1].
func lcsSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return float64(prev[len(rb)]) / float64(longest)
}

package features

import (
	"math"
	"regexp"
)

// ─── Lexical Signals ────────────────────────────────────────────────────────

// Regex families compiled once. Matching any member sets the corresponding
// feature flag.
var (
	codePatterns = []*regexp.Regexp{
		regexp.MustCompile("```"),
		regexp.MustCompile(`\b(func|def|class|import|return|var|const|let)\b`),
		regexp.MustCompile(`[{};]\s*$`),
		regexp.MustCompile(`\b(public|private|static|void|int|string)\s+\w+\s*\(`),
		regexp.MustCompile(`(?i)\b(write|implement|debug|refactor)\b.{0,40}\b(function|code|script|program|method)\b`),
	}

	mathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\$?[^$]+\$\$?`),
		regexp.MustCompile(`\\(frac|sum|int|sqrt|alpha|beta|theta|infty)`),
		regexp.MustCompile(`\b(theorem|lemma|proof|integral|derivative|matrix|eigenvalue)\b`),
		regexp.MustCompile(`\b\d+\s*[+\-*/^=]\s*\d+\b`),
	}
)

// HasCode reports whether the text matches the code regex family.
func HasCode(text string) bool { return matchAny(codePatterns, text) }

// HasMath reports whether the text matches the math regex family.
func HasMath(text string) bool { return matchAny(mathPatterns, text) }

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// TrigramEntropy computes the Shannon entropy (bits) of character trigrams.
// Short texts (< 3 bytes) have zero entropy. Higher entropy indicates more
// varied prose; low entropy indicates repetition or boilerplate.
func TrigramEntropy(text string) float64 {
	if len(text) < 3 {
		return 0
	}
	counts := make(map[string]int)
	total := 0
	for i := 0; i+3 <= len(text); i++ {
		counts[text[i:i+3]]++
		total++
	}
	var entropy float64
	ftotal := float64(total)
	for _, c := range counts {
		p := float64(c) / ftotal
		entropy -= p * math.Log2(p)
	}
	return entropy
}

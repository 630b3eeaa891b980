package report

import (
	"regexp"
	"strings"
)

// digitRun finds numeric tokens: digit groups joined by single hyphens,
// slashes or spaces.
var digitRun = regexp.MustCompile(`\d+(?:[-/ ]\d+)*`)

var (
	isoDate   = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)
	slashDate = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
)

// minIdentifierDigits is the shortest digit count treated as a taxpayer
// identifier or account number.
const minIdentifierDigits = 8

// Redact masks values shaped like taxpayer identifiers, dates of birth,
// and account numbers. Decimal amounts are left alone.
func Redact(s string) string {
	locs := digitRun.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		token := s[start:end]
		if decimalNeighbour(s, start, end) {
			continue
		}
		var masked string
		switch {
		case isoDate.MatchString(token), slashDate.MatchString(token):
			masked = maskKeepLast(token, 0)
		case countDigits(token) >= minIdentifierDigits:
			masked = maskKeepLast(token, 4)
		default:
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(masked)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// MaskValue hides a sensitive value entirely except its last four
// characters.
func MaskValue(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func decimalNeighbour(s string, start, end int) bool {
	if start > 0 && s[start-1] == '.' {
		return true
	}
	return end < len(s)-1 && s[end] == '.' && isDigit(s[end+1])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func countDigits(token string) int {
	n := 0
	for i := range len(token) {
		if isDigit(token[i]) {
			n++
		}
	}
	return n
}

func maskKeepLast(token string, keep int) string {
	hide := countDigits(token) - keep
	out := []byte(token)
	for i := range out {
		if hide == 0 {
			break
		}
		if isDigit(out[i]) {
			out[i] = '*'
			hide--
		}
	}
	return string(out)
}

func redactIssue(i Issue) Issue {
	i.Message = Redact(i.Message)
	i.Path = Redact(i.Path)
	i.Expected = Redact(i.Expected)
	i.Actual = Redact(i.Actual)
	if len(i.Allowed) > 0 {
		allowed := make([]string, len(i.Allowed))
		for k, a := range i.Allowed {
			allowed[k] = Redact(a)
		}
		i.Allowed = allowed
	}
	return i
}

func redactAll(issues []Issue) []Issue {
	out := make([]Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, redactIssue(i))
	}
	return out
}

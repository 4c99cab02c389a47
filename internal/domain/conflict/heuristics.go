package conflict

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// signature is the lexical fingerprint of one item's content: its token set
// with clock times canonicalized, plus the extracted facts (times, numbers,
// weekdays, negation polarity) the contradiction heuristics compare.
type signature struct {
	tokens   map[string]struct{}
	subject  map[string]struct{} // tokens minus times and numbers
	times    map[string]struct{} // canonical 24h "15:00" forms
	numbers  map[string]struct{}
	weekdays map[string]struct{}
	negated  bool
}

var (
	clockPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)
	digitPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var weekdayWords = map[string]string{
	"monday": "mon", "tuesday": "tue", "wednesday": "wed", "thursday": "thu",
	"friday": "fri", "saturday": "sat", "sunday": "sun",
	"mon": "mon", "tue": "tue", "wed": "wed", "thu": "thu", "fri": "fri",
	"sat": "sat", "sun": "sun",
	"周一": "mon", "周二": "tue", "周三": "wed", "周四": "thu", "周五": "fri",
	"周六": "sat", "周日": "sun",
}

var negationTokens = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "cancelled": {}, "canceled": {},
	"won't": {}, "don't": {}, "isn't": {}, "wasn't": {}, "can't": {},
	"不": {}, "没": {}, "别": {},
}

func newSignature(content string) *signature {
	s := &signature{
		tokens:   make(map[string]struct{}),
		subject:  make(map[string]struct{}),
		times:    make(map[string]struct{}),
		numbers:  make(map[string]struct{}),
		weekdays: make(map[string]struct{}),
	}

	lower := strings.ToLower(content)

	// Canonicalize clock times before tokenizing so "3pm" and "3:00 PM"
	// produce the same token.
	canonical := clockPattern.ReplaceAllStringFunc(lower, func(match string) string {
		t := canonicalTime(match)
		s.times[t] = struct{}{}
		return " " + t + " "
	})

	for _, tok := range tokenize(canonical) {
		s.tokens[tok] = struct{}{}

		if _, ok := negationTokens[tok]; ok {
			s.negated = true
			continue
		}
		if day, ok := weekdayWords[tok]; ok {
			s.weekdays[day] = struct{}{}
		}
		if strings.HasPrefix(tok, "t") && strings.Contains(tok, ":") {
			continue // canonical time, already collected
		}
		if digitPattern.MatchString(tok) {
			for _, n := range digitPattern.FindAllString(tok, -1) {
				s.numbers[n] = struct{}{}
			}
			continue
		}
		s.subject[tok] = struct{}{}
	}

	return s
}

func canonicalTime(match string) string {
	sub := clockPattern.FindStringSubmatch(strings.ToLower(match))
	var hour, minute int
	if sub[1] != "" {
		hour, _ = strconv.Atoi(sub[1])
		if sub[2] != "" {
			minute, _ = strconv.Atoi(sub[2])
		}
		if sub[3] == "pm" && hour < 12 {
			hour += 12
		}
		if sub[3] == "am" && hour == 12 {
			hour = 0
		}
	} else {
		hour, _ = strconv.Atoi(sub[4])
		minute, _ = strconv.Atoi(sub[5])
	}
	return fmt.Sprintf("t%02d:%02d", hour, minute)
}

func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == ':' || r == '.':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// overlap is the Jaccard index over full token sets.
func (s *signature) overlap(o *signature) float64 {
	return jaccard(s.tokens, o.tokens)
}

// subjectOverlap ignores times and numbers, measuring whether both contents
// talk about the same thing.
func (s *signature) subjectOverlap(o *signature) float64 {
	return jaccard(s.subject, o.subject)
}

// contradicts reports whether the two signatures assert different values for
// the same kind of fact.
func (s *signature) contradicts(o *signature) (bool, string) {
	if len(s.times) > 0 && len(o.times) > 0 && !setsEqual(s.times, o.times) {
		return true, "time mismatch"
	}
	if len(s.weekdays) > 0 && len(o.weekdays) > 0 && !setsEqual(s.weekdays, o.weekdays) {
		return true, "date mismatch"
	}
	if len(s.numbers) > 0 && len(o.numbers) > 0 && !setsEqual(s.numbers, o.numbers) {
		return true, "number mismatch"
	}
	if s.negated != o.negated {
		return true, "negation mismatch"
	}
	return false, ""
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Package heuristics screens user input before it reaches the agent loop.
package heuristics

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrBlockedTopic is returned for input touching a refused subject.
	ErrBlockedTopic = errors.New("request touches a blocked topic")
	// ErrEmptyInput is returned when nothing is left after sanitising.
	ErrEmptyInput = errors.New("empty input, please rephrase")
)

var slang = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bu\b`), "you"},
	{regexp.MustCompile(`(?i)\bur\b`), "your"},
	{regexp.MustCompile(`(?i)\bwanna\b`), "want to"},
	{regexp.MustCompile(`(?i)\bgonna\b`), "going to"},
	{regexp.MustCompile(`(?i)\bgotta\b`), "have to"},
	{regexp.MustCompile(`(?i)\bpls?\b`), "please"},
	{regexp.MustCompile(`(?i)\btho\b`), "though"},
	{regexp.MustCompile(`(?i)\bimo\b`), "in my opinion"},
	{regexp.MustCompile(`(?i)\bidk\b`), "I do not know"},
	{regexp.MustCompile(`(?i)\bwtf\b`), "what"},
}

var blockedSubjects = []string{
	"violence", "kill", "terrorism", "extremism", "weapon", "firearm", "gun",
	"bomb", "harm someone", "self harm", "drug manufacturing",
}

const (
	riskyVerbs   = `(?:make|build|assemble|manufacture|fabricate|construct|3d[- ]?print|cook(?: up)?|design)`
	riskyObjects = `(?:gun|firearm|weapon|bomb|grenade|explosive|pipe bomb|chemical weapon|improvised explosive|ied|poison|molotov|silencer)`
)

var (
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b` + riskyVerbs + `\b[^\n]*\b` + riskyObjects + `\b`),
		regexp.MustCompile(`(?i)\b` + riskyObjects + `\b[^\n]*\b` + riskyVerbs + `\b`),
		regexp.MustCompile(`(?i)\bhow to\b[^\n]*\b(?:gun|firearm|bomb|explosive|weapon)\b`),
	}
	offensive  = regexp.MustCompile(`(?i)\b(?:damn|shit|fuck|bitch|bastard)\b`)
	whitespace = regexp.MustCompile(`\s+`)

	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func markupPolicy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// Guard applies the input heuristics. The zero value is ready to use.
type Guard struct {
	blocked []*regexp.Regexp
	once    sync.Once
}

// New returns a guard with the default rules.
func New() *Guard { return &Guard{} }

func (g *Guard) init() {
	g.once.Do(func() {
		for _, s := range blockedSubjects {
			g.blocked = append(g.blocked, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(s)+`\b`))
		}
	})
}

// Check rejects blocked topics and dangerous requests, then rewrites slang,
// masks profanity, drops markup and collapses whitespace.
func (g *Guard) Check(input string) (string, error) {
	g.init()
	for _, re := range g.blocked {
		if re.MatchString(input) {
			return "", ErrBlockedTopic
		}
	}
	for _, re := range dangerousPatterns {
		if re.MatchString(input) {
			return "", ErrBlockedTopic
		}
	}

	out := html.UnescapeString(markupPolicy().Sanitize(input))
	for _, s := range slang {
		out = s.pattern.ReplaceAllString(out, s.replacement)
	}
	out = offensive.ReplaceAllStringFunc(out, mask)
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
	if out == "" {
		return "", ErrEmptyInput
	}
	return out, nil
}

func mask(word string) string {
	if len(word) <= 2 {
		return strings.Repeat("*", len(word))
	}
	return word[:1] + strings.Repeat("*", len(word)-2) + word[len(word)-1:]
}

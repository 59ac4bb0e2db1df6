package compiler

import (
	"regexp"
	"strings"

	"github.com/liamcoop/automations/rules"
)

var (
	keywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\babout\s+(.+?)(?:,|\.|$)`),
		regexp.MustCompile(`\bcontaining\s+(.+?)(?:,|\.|$)`),
		regexp.MustCompile(`\bmentions?\s+(.+?)(?:,|\.|$)`),
		regexp.MustCompile(`\bincludes?\s+(.+?)(?:,|\.|$)`),
	}
	keywordSplitRe = regexp.MustCompile(`\s+(?:or|and)\s+|,\s*`)

	senderRe = regexp.MustCompile(`(?i)\bfrom\s+([\p{L}\p{N}_@.\-]+)`)

	wordRe = regexp.MustCompile(`\b[a-z]{4,}\b`)
)

// Words never used as fallback keywords
var stopWords = map[string]bool{
	"when": true, "that": true, "this": true, "from": true, "with": true,
	"about": true, "have": true, "will": true, "send": true, "text": true,
	"message": true, "alert": true, "email": true, "every": true, "remind": true,
}

const maxFallbackKeywords = 5

// Action keyword sets, checked in order
var (
	summaryWords = []string{"summarize", "summary"}
	alertWords   = []string{"alert", "warn", "urgent"}
	messageWords = []string{"send me", "text me", "message me", "notify me", "tell me", "remind me"}
)

// ParseKeywords extracts topics from "about X", "containing X or Y",
// "mentions X" and "includes X". Keywords are lowercased.
func ParseKeywords(text string) ([]string, bool) {
	lower := strings.ToLower(text)

	for _, re := range keywordPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		var keywords []string
		for _, part := range keywordSplitRe.Split(strings.TrimSpace(m[1]), -1) {
			part = strings.Trim(strings.TrimSpace(part), `'"`)
			if part != "" {
				keywords = append(keywords, part)
			}
		}
		return keywords, true
	}
	return nil, false
}

// ParseSender extracts the token after "from", keeping its case
func ParseSender(text string) (string, bool) {
	m := senderRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	sender := strings.TrimRight(m[1], ".-")
	return sender, sender != ""
}

func fallbackKeywords(lower string) []string {
	keywords := []string{}
	for _, w := range wordRe.FindAllString(lower, -1) {
		if stopWords[w] {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == maxFallbackKeywords {
			break
		}
	}
	return keywords
}

// DetectAction classifies what the rule should do when it fires.
// The payload always carries the full trimmed input.
func DetectAction(text string) (rules.ActionType, rules.ActionConfig) {
	lower := strings.ToLower(text)
	trimmed := strings.TrimSpace(text)

	switch {
	case containsAny(lower, summaryWords):
		return rules.ActionSummary, &rules.SummaryAction{What: trimmed}
	case containsAny(lower, alertWords):
		return rules.ActionAlert, &rules.AlertAction{Message: trimmed}
	case containsAny(lower, messageWords):
		return rules.ActionMessage, &rules.MessageAction{Message: trimmed}
	}
	return rules.ActionMessage, &rules.MessageAction{Message: trimmed}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

package utils

import (
	"regexp"
	"strings"
)

var replyPrefixRegex = regexp.MustCompile(`(?i)^(Re|Fwd|Fw|Aw|Sv)(\[\d+\])?:\s*`)

// NormalizeEmailSubject removes prefixes like Re:, Fwd:, etc. from a subject
func NormalizeEmailSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for replyPrefixRegex.MatchString(subject) {
		subject = replyPrefixRegex.ReplaceAllString(subject, "")
		subject = strings.TrimSpace(subject)
	}
	return subject
}

// ReplySubject returns the subject with exactly one "Re: " prefix.
func ReplySubject(subject string) string {
	return "Re: " + NormalizeEmailSubject(subject)
}

func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}

// FormatMessageID wraps an id in angle brackets as required in Message-ID style headers.
func FormatMessageID(messageID string) string {
	messageID = NormalizeMessageID(messageID)
	if messageID == "" {
		return ""
	}
	return "<" + messageID + ">"
}

// ParseReferences splits a References or In-Reply-To header into normalized ids.
func ParseReferences(header string) []string {
	var refs []string
	for _, field := range strings.Fields(header) {
		if id := NormalizeMessageID(field); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

func HasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

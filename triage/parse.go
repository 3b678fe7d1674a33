package triage

import (
	"regexp"
	"strconv"
	"strings"
)

// IssueRef is a parsed GitHub issue reference.
type IssueRef struct {
	RepoFullName string
	IssueNumber  int
}

var (
	shortRefPattern = regexp.MustCompile(`^([\w.-]+/[\w.-]+)#(\d+)$`)
	urlRefPattern   = regexp.MustCompile(`^https?://github\.com/([\w.-]+)/([\w.-]+)/issues/(\d+)(?:[/?#].*)?$`)
)

// ParseIssueRef parses an "owner/repo#123" short reference or a GitHub
// issue URL. Returns false when the string matches neither form.
func ParseIssueRef(s string) (IssueRef, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return IssueRef{}, false
	}

	if m := shortRefPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return IssueRef{}, false
		}
		return IssueRef{RepoFullName: m[1], IssueNumber: n}, true
	}

	if m := urlRefPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[3])
		if err != nil || n <= 0 {
			return IssueRef{}, false
		}
		return IssueRef{RepoFullName: m[1] + "/" + m[2], IssueNumber: n}, true
	}

	return IssueRef{}, false
}

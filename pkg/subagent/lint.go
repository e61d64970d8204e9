package subagent

import "strings"

// Issue describes a system-prompt lint finding.
type Issue struct {
	Rule    string
	Message string
}

const maxPromptLen = 8000

// LintPrompt runs basic checks on a system prompt before an agent is
// provisioned. Findings block creation; a prompt that embeds credentials
// would otherwise be persisted to disk verbatim.
func LintPrompt(body string) []Issue {
	var issues []Issue
	if strings.TrimSpace(body) == "" {
		issues = append(issues, Issue{Rule: "body.required", Message: "system prompt is empty"})
		return issues
	}
	if len(body) > maxPromptLen {
		issues = append(issues, Issue{Rule: "body.length", Message: "system prompt exceeds the size limit"})
	}
	if containsSecretLike(body) {
		issues = append(issues, Issue{Rule: "security.secrets", Message: "system prompt appears to contain secrets-like content"})
	}
	return issues
}

func containsSecretLike(s string) bool {
	lower := strings.ToLower(s)
	for _, needle := range []string{"aws_secret_access_key", "begin private key", "sk-"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

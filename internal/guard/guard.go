// Package guard classifies proposed shell actions into risk tiers. The
// same blacklist gates both the predictive suggestion surface and the
// device command dispatch path, so a command rejected at execution time
// is always flagged before a user ever sees it as a suggestion.
package guard

import (
	"regexp"
	"strings"
)

// Level is a locally computed risk tier. The LLM's self-reported level
// is never trusted; every action is re-classified here.
type Level string

const (
	Safe      Level = "safe"
	Warning   Level = "warning"
	Dangerous Level = "dangerous"
)

// Action types. Only shell actions carry execution risk.
const (
	ActionShell   = "shell"
	ActionMessage = "message"
	ActionFile    = "file"
)

// dangerousPatterns match commands that can destroy data or take the
// machine down. Any match is Dangerous regardless of context.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^rm\s+(-rf?|--recursive)\s+/`),
	regexp.MustCompile(`^rm\s+-rf?\s+~`),
	regexp.MustCompile(`(?i)^format\s`),
	regexp.MustCompile(`^mkfs\.`),
	regexp.MustCompile(`^dd\s+if=`),
	regexp.MustCompile(`^:\(\)\{.*\|.*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`(?i)shutdown|reboot|halt|poweroff`),
	regexp.MustCompile(`^chmod\s+(-R\s+)?777\s+/`),
	regexp.MustCompile(`^chown\s+(-R\s+)?.*\s+/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\|\s*bash\s*$`),
	regexp.MustCompile(`(?i)curl.*\|\s*sh`),
}

// warningPatterns match destructive but recoverable operations.
var warningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^rm\s`),
	regexp.MustCompile(`^git\s+(reset|clean|checkout\s+--)`),
	regexp.MustCompile(`(?i)^npm\s+init`),
	regexp.MustCompile(`(?i)^pip\s+install.*--force`),
	regexp.MustCompile(`(?i)^docker\s+(rm|rmi|prune)`),
	regexp.MustCompile(`^kill\s`),
	regexp.MustCompile(`^pkill\s`),
	regexp.MustCompile(`(?i)DROP\s+(TABLE|DATABASE)`),
	regexp.MustCompile(`(?i)TRUNCATE\s`),
}

// IsDangerous reports whether a shell command matches the blacklist.
// This is the predicate shared with device command dispatch.
func IsDangerous(command string) bool {
	cmd := strings.TrimSpace(command)
	for _, p := range dangerousPatterns {
		if p.MatchString(cmd) {
			return true
		}
	}
	return false
}

// IsWarning reports whether a shell command matches the warning list.
func IsWarning(command string) bool {
	cmd := strings.TrimSpace(command)
	for _, p := range warningPatterns {
		if p.MatchString(cmd) {
			return true
		}
	}
	return false
}

// Classify returns the risk tier for an action. Non-shell actions are
// always Safe. Classification is idempotent: it depends only on the
// action type and text.
func Classify(actionType, action string) Level {
	if actionType != ActionShell {
		return Safe
	}
	if IsDangerous(action) {
		return Dangerous
	}
	if IsWarning(action) {
		return Warning
	}
	return Safe
}

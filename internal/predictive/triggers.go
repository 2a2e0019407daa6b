package predictive

import "regexp"

// trigger maps an output signature to a category. The table is ordered
// most specific to most generic; the first match wins, so the generic
// error catch-all can never shadow a specific category.
type trigger struct {
	pattern  *regexp.Regexp
	category string
}

var triggers = []trigger{
	{regexp.MustCompile(`(?i)npm ERR!|yarn error|pnpm ERR`), "package_error"},
	{regexp.MustCompile(`(?i)build failed|compile error|syntax error`), "build_error"},
	{regexp.MustCompile(`(?i)exception|traceback|stack trace`), "exception"},
	{regexp.MustCompile(`(?i)permission denied|access denied|EACCES`), "permission"},
	{regexp.MustCompile(`(?i)not found|no such file|ENOENT`), "not_found"},
	{regexp.MustCompile(`(?i)timeout|timed out|ETIMEDOUT`), "timeout"},
	{regexp.MustCompile(`(?i)ECONNREFUSED|ECONNRESET|connection refused`), "network"},
	{regexp.MustCompile(`(?i)\bErr(?:or)?[\s:!]|\bfailed\b|\bfailure\b`), "error"},
}

// DetectTrigger returns the category of the first matching trouble
// signature in the text, or "" when nothing matches.
func DetectTrigger(text string) string {
	for _, t := range triggers {
		if t.pattern.MatchString(text) {
			return t.category
		}
	}
	return ""
}

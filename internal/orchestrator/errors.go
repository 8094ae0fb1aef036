package orchestrator

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// codexErrorPrefix marks errors raised by the Codex client; the inner
// message is safe to surface.
const codexErrorPrefix = "Codex query failed:"

// ClassifyError maps an internal error to a user-safe message. Substring
// tests run in order; the first match wins.
func ClassifyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "Rate limit"):
		return "AI rate limit reached. Please wait a moment and try again."
	case strings.Contains(msg, "API key") || strings.Contains(msg, "authentication") || strings.Contains(msg, "401"):
		return "AI service authentication error. Please check configuration."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "ETIMEDOUT"):
		return "Request timed out. The operation took too long to complete. Try again or use /reset."
	case strings.Contains(msg, "ECONNREFUSED") || strings.Contains(msg, "database"):
		return "Database connection issue. Please try again in a moment."
	case strings.Contains(msg, "session") || strings.Contains(msg, "Session"):
		return "Session error. Use /reset to start a fresh session."
	case strings.Contains(msg, codexErrorPrefix):
		inner := strings.TrimSpace(msg[strings.Index(msg, codexErrorPrefix)+len(codexErrorPrefix):])
		return fmt.Sprintf("AI error: %s. Try /reset if issue persists.", inner)
	case isShortSafeMessage(msg):
		return fmt.Sprintf("Error: %s. Try /reset if issue persists.", msg)
	default:
		return "An unexpected error occurred. Try /reset to start a fresh session."
	}
}

// isShortSafeMessage admits brief error text that cannot plausibly carry a
// credential.
func isShortSafeMessage(msg string) bool {
	if len(msg) < 1 || len(msg) > 99 {
		return false
	}
	lower := strings.ToLower(msg)
	for _, needle := range []string{"password", "token", "secret", "key="} {
		if strings.Contains(lower, needle) {
			return false
		}
	}
	return true
}

// credentialEnvVars is the fixed allowlist of environment variables whose
// values must never reach logs or platform messages.
var credentialEnvVars = []string{
	"TELEGRAM_BOT_TOKEN",
	"DISCORD_BOT_TOKEN",
	"SLACK_BOT_TOKEN",
	"SLACK_APP_TOKEN",
	"GITHUB_TOKEN",
	"GITHUB_WEBHOOK_SECRET",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"ARCHON_PLATFORMS_TELEGRAM_TOKEN",
	"ARCHON_PLATFORMS_DISCORD_TOKEN",
	"ARCHON_PLATFORMS_SLACK_TOKEN",
	"ARCHON_PLATFORMS_GITHUB_TOKEN",
}

var githubURLCredentials = regexp.MustCompile(`https://[^@/\s]+@github\.com`)

// SanitizeCredentials redacts known secret values and URL-embedded
// credentials from a string bound for a user-visible surface or a log line.
func SanitizeCredentials(s string) string {
	for _, name := range credentialEnvVars {
		if value := os.Getenv(name); value != "" {
			s = strings.ReplaceAll(s, value, "[REDACTED]")
		}
	}
	return githubURLCredentials.ReplaceAllString(s, "https://[REDACTED]@github.com")
}

package platform

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	slackIDPattern   = regexp.MustCompile(`^[UW][A-Z0-9]+$`)
	discordIDPattern = regexp.MustCompile(`^\d+$`)
)

// ParseTelegramAllowlist parses a comma-separated list of numeric Telegram
// user ids. Invalid and non-positive entries are dropped. An empty list
// means open access.
func ParseTelegramAllowlist(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// TelegramUserAllowed reports whether the user id passes the allowlist.
// An empty allowlist grants open access.
func TelegramUserAllowed(allowlist []int64, userID int64) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, id := range allowlist {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseSlackAllowlist parses comma-separated Slack member ids. Entries not
// matching the Slack id shape (U… or W…) are dropped.
func ParseSlackAllowlist(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || !slackIDPattern.MatchString(part) {
			continue
		}
		ids = append(ids, part)
	}
	return ids
}

// ParseDiscordAllowlist parses comma-separated Discord snowflake ids.
// Non-numeric entries are dropped.
func ParseDiscordAllowlist(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || !discordIDPattern.MatchString(part) {
			continue
		}
		ids = append(ids, part)
	}
	return ids
}

// StringIDAllowed reports whether the user id passes the allowlist. An
// empty allowlist grants open access.
func StringIDAllowed(allowlist []string, userID string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, id := range allowlist {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseGitHubAllowlist parses comma-separated GitHub usernames, trimmed
// and lowercased.
func ParseGitHubAllowlist(raw string) []string {
	var users []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		users = append(users, part)
	}
	return users
}

// GitHubUserAllowed reports whether the username passes the allowlist.
// Comparison is case-insensitive; an empty allowlist grants open access.
func GitHubUserAllowed(allowlist []string, username string) bool {
	if len(allowlist) == 0 {
		return true
	}
	username = strings.ToLower(strings.TrimSpace(username))
	for _, user := range allowlist {
		if user == username {
			return true
		}
	}
	return false
}

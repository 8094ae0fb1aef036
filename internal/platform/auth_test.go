package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTelegramAllowlist(t *testing.T) {
	assert.Equal(t, []int64{123, 456}, ParseTelegramAllowlist("123, 456"))
	assert.Equal(t, []int64{123}, ParseTelegramAllowlist("123,abc,-5,0,"))
	assert.Empty(t, ParseTelegramAllowlist(""))
	assert.Empty(t, ParseTelegramAllowlist(" , ,"))
}

func TestTelegramUserAllowed(t *testing.T) {
	// Empty allowlist means open access
	assert.True(t, TelegramUserAllowed(nil, 999))
	assert.True(t, TelegramUserAllowed([]int64{123}, 123))
	assert.False(t, TelegramUserAllowed([]int64{123}, 456))
}

func TestParseSlackAllowlist(t *testing.T) {
	assert.Equal(t, []string{"U12345", "W67890"}, ParseSlackAllowlist("U12345, W67890"))
	// Lowercase, wrong prefix, and garbage are dropped
	assert.Empty(t, ParseSlackAllowlist("u12345, X123, hello"))
}

func TestParseDiscordAllowlist(t *testing.T) {
	assert.Equal(t, []string{"123456789012345678"}, ParseDiscordAllowlist("123456789012345678, not-an-id"))
	assert.Empty(t, ParseDiscordAllowlist(""))
}

func TestStringIDAllowed(t *testing.T) {
	assert.True(t, StringIDAllowed(nil, "anyone"))
	assert.True(t, StringIDAllowed([]string{"U1"}, "U1"))
	assert.False(t, StringIDAllowed([]string{"U1"}, "U2"))
}

func TestGitHubAllowlist(t *testing.T) {
	users := ParseGitHubAllowlist(" Alice, BOB ,carol")
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)

	// Comparison is case-insensitive
	assert.True(t, GitHubUserAllowed(users, "ALICE"))
	assert.True(t, GitHubUserAllowed(users, "bob"))
	assert.False(t, GitHubUserAllowed(users, "mallory"))

	// Empty allowlist means open access
	assert.True(t, GitHubUserAllowed(nil, "anyone"))
}

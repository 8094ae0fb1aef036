package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitutePositionals(t *testing.T) {
	content := "Fix $1 in $2, then verify $1 again"
	result := Substitute(content, []string{"auth", "login.go"})
	assert.Equal(t, "Fix auth in login.go, then verify auth again", result)
}

func TestSubstituteArguments(t *testing.T) {
	result := Substitute("Run with: $ARGUMENTS", []string{"fast", "verbose"})
	assert.Equal(t, "Run with: fast verbose", result)
}

func TestSubstituteMissingPositionalLeftVerbatim(t *testing.T) {
	result := Substitute("Use $1 and $2", []string{"only-one"})
	assert.Equal(t, "Use only-one and $2", result)
}

func TestSubstituteEscapedDollar(t *testing.T) {
	// \$ never substitutes; it renders as a literal dollar sign.
	result := Substitute(`Cost is \$1 and arg is $1`, []string{"price"})
	assert.Equal(t, "Cost is $1 and arg is price", result)
}

func TestSubstituteMoreThanNineArgs(t *testing.T) {
	args := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	result := Substitute("$1 $9 $10", args)
	// $10 is parsed as $1 followed by a literal 0.
	assert.Equal(t, "a i a0", result)
}

func TestSubstituteIdempotent(t *testing.T) {
	args := []string{"alpha", "beta"}
	once := Substitute("do $1 with $2 ($ARGUMENTS)", args)
	twice := Substitute(once, args)
	assert.Equal(t, once, twice)
}

func TestSubstituteNoArgs(t *testing.T) {
	content := "verbatim $1 $ARGUMENTS text"
	assert.Equal(t, "verbatim $1  text", Substitute(content, nil))
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitArgs("a  b\tc"))
	assert.Equal(t, []string{"fix the bug", "now"}, SplitArgs(`"fix the bug" now`))
	assert.Nil(t, SplitArgs("   "))
}

func TestWrapContainsNameAndContent(t *testing.T) {
	wrapped := Wrap("plan-feature", "Plan the feature carefully.")
	assert.Contains(t, wrapped, "plan-feature")
	assert.Contains(t, wrapped, "Plan the feature carefully.")
}

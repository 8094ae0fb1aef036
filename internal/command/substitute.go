// Package command implements the deterministic slash commands and the
// variable substitution and wrapping applied to command file contents.
package command

import (
	"strconv"
	"strings"
)

// escapeSentinel temporarily protects \$ sequences during substitution.
// A NUL byte cannot appear in command file text.
const escapeSentinel = "\x00"

// Substitute renders $1..$9 positionals, $ARGUMENTS, and \$ escapes in a
// command or template body. Missing positionals are left verbatim;
// substitution is idempotent on fully-substituted text.
func Substitute(content string, args []string) string {
	result := strings.ReplaceAll(content, `\$`, escapeSentinel)

	result = strings.ReplaceAll(result, "$ARGUMENTS", strings.Join(args, " "))

	n := len(args)
	if n > 9 {
		n = 9
	}
	for i := n; i >= 1; i-- {
		result = strings.ReplaceAll(result, "$"+strconv.Itoa(i), args[i-1])
	}

	return strings.ReplaceAll(result, escapeSentinel, "$")
}

// SplitArgs splits a raw argument string on whitespace, honoring double
// quotes so a quoted phrase stays one positional.
func SplitArgs(raw string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false

	for _, r := range raw {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

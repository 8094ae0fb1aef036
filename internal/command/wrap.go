package command

import "fmt"

// Wrap frames a rendered command body as an imperative instruction so the
// assistant executes it without asking for confirmation.
func Wrap(name, content string) string {
	return fmt.Sprintf("The user invoked the `/%s` command. Execute the following instructions immediately without asking for confirmation:\n\n---\n\n%s\n\n---\n\nRemember: The user already decided to run this command. Take action now.", name, content)
}

// Package shellquote renders command lines that can be pasted into a POSIX shell.
package shellquote

import "strings"

const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Quote returns s unchanged when every rune is shell-safe, otherwise wrapped in
// single quotes with embedded quotes written as '\''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.Trim(s, safe) == "" {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join constructs a command line from bin and args.
func Join(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(bin))

	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}

	return strings.Join(parts, " ")
}

package cloudexec

import (
	"errors"
	"strings"
)

// SplitCommand tokenises a command string respecting single and double
// quotes. Backslash escapes the next character outside single quotes.
var ErrUnbalancedQuotes = errors.New("unbalanced quotes in command")

func SplitCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		escaped bool
		started bool
	)

	for _, r := range command {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			started = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t':
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if quote != 0 || escaped {
		return nil, ErrUnbalancedQuotes
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}

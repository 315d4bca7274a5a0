package cloudexec

import (
	"fmt"
	"strings"
)

// readOnlyVerbs classifies commands that never mutate cloud state.
var readOnlyVerbs = map[string]bool{
	"list": true, "describe": true, "get": true, "show": true, "status": true,
	"read": true, "view": true, "help": true, "logs": true, "top": true,
	"explain": true, "search": true, "query": true, "ls": true, "cat": true,
	"version": true, "whoami": true,
	"get-caller-identity": true, "describe-instances": true, "describe-regions": true,
	"list-buckets": true, "get-value": true, "ping": true, "netcheck": true,
}

// destructiveVerbs flags commands that warrant a confirmation summary.
var destructiveVerbs = map[string]bool{
	"delete": true, "destroy": true, "remove": true, "rm": true, "terminate": true,
	"stop": true, "kill": true, "drop": true, "purge": true, "detach": true,
	"terminate-instances": true, "delete-stack": true, "rb": true,
}

// IsReadOnly classifies a full CLI command string from its verb: the first
// positional token that matches a known verb class decides. Flag values are
// never classified, so an argument such as --key get-data cannot mark a
// deletion read-only. Unclassifiable commands are treated as writes.
func IsReadOnly(command string) bool {
	skipValue := false
	for _, token := range strings.Fields(command) {
		if strings.HasPrefix(token, "-") {
			// A flag without an inline value consumes the next token.
			skipValue = !strings.Contains(token, "=")
			continue
		}
		if skipValue {
			skipValue = false
			continue
		}
		verb := strings.ToLower(token)
		if destructiveVerbs[verb] || hasVerbPrefix(verb, "delete-", "terminate-", "remove-") {
			return false
		}
		if isWriteVerb(verb) {
			return false
		}
		if readOnlyVerbs[verb] || hasVerbPrefix(verb, "describe-", "list-", "get-") {
			return true
		}
	}
	return false
}

func hasVerbPrefix(verb string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(verb, prefix) {
			return true
		}
	}
	return false
}

// IsDestructive reports whether the command needs the stronger confirmation
// summary treatment (deletions and terminations as opposed to creations).
func IsDestructive(command string) bool {
	for _, token := range strings.Fields(command) {
		verb := strings.ToLower(token)
		if destructiveVerbs[verb] || hasVerbPrefix(verb, "delete-", "terminate-", "remove-") {
			return true
		}
	}
	return false
}

// ConfirmationSummary builds the human line shown in the confirmation
// prompt: verb + resource type + name + location where they can be read off
// the command.
func ConfirmationSummary(provider, command string) string {
	tokens := strings.Fields(command)

	var verb, resource, name, location string
	for i, token := range tokens {
		lower := strings.ToLower(token)
		if verb == "" && (destructiveVerbs[lower] || isWriteVerb(lower)) {
			verb = lower
			if i > 0 {
				resource = tokens[i-1]
			}
			if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
				name = tokens[i+1]
			}
		}
		for _, flag := range []string{"--zone", "--region", "--location"} {
			if strings.HasPrefix(token, flag+"=") {
				location = strings.TrimPrefix(token, flag+"=")
			} else if token == flag && i+1 < len(tokens) {
				location = tokens[i+1]
			}
		}
	}

	if verb == "" {
		return fmt.Sprintf("[%s] run: %s", provider, command)
	}

	parts := []string{verb}
	if resource != "" {
		parts = append(parts, resource)
	}
	if name != "" {
		parts = append(parts, name)
	}
	summary := fmt.Sprintf("[%s] %s", provider, strings.Join(parts, " "))
	if location != "" {
		summary += " in " + location
	}
	return summary
}

func isWriteVerb(verb string) bool {
	switch verb {
	case "create", "update", "deploy", "apply", "install", "upgrade", "restore",
		"start", "restart", "resize", "scale", "attach", "set", "add", "patch",
		"run-instances", "create-stack", "put-object":
		return true
	}
	return strings.HasPrefix(verb, "create-") || strings.HasPrefix(verb, "update-") ||
		strings.HasPrefix(verb, "put-") || strings.HasPrefix(verb, "run-")
}

package cloudexec

import (
	"strings"
	"time"
)

// Timeout tiers. An explicit caller timeout overrides all of them.
const (
	defaultTimeout  = 60 * time.Second
	longTimeout     = 300 * time.Second
	veryLongTimeout = 1200 * time.Second
)

// veryLongMarkers flag cluster/database lifecycle operations that routinely
// run for many minutes.
var veryLongMarkers = []string{
	"clusters create", "clusters delete", "cluster create", "cluster delete",
	"create-cluster", "delete-cluster", "aks create", "aks delete",
	"sql instances create", "sql instances delete", "rds create-db-instance",
	"rds delete-db-instance", "restore", "create-db-cluster", "delete-db-cluster",
}

var longVerbs = []string{"delete", "create", "update", "deploy", "apply", "install", "upgrade"}

// CommandTimeout picks the execution timeout for a command. explicit > 0
// wins over the tier policy.
func CommandTimeout(command string, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	lower := strings.ToLower(command)
	for _, marker := range veryLongMarkers {
		if strings.Contains(lower, marker) {
			return veryLongTimeout
		}
	}
	for _, verb := range longVerbs {
		for _, token := range strings.Fields(lower) {
			if token == verb {
				return longTimeout
			}
		}
	}
	return defaultTimeout
}

// service_id.go — имя вершины графа topologymetrics по умолчанию.
package main

import (
	"os"
	"strings"
)

// defaultServiceID — имя, если hostname недоступен.
const defaultServiceID = "ingest-module"

// serviceIDFromHostname возвращает имя владельца пода (Deployment или StatefulSet).
func serviceIDFromHostname() string {
	return serviceIDFor(os.Hostname())
}

// serviceIDFor выбирает имя по результату os.Hostname.
func serviceIDFor(hostname string, err error) string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if err != nil || hostname == "" {
		return defaultServiceID
	}
	return parseOwnerName(hostname)
}

// parseOwnerName извлекает имя владельца пода из hostname:
//   - Deployment: <name>-<hash ReplicaSet>-<суффикс из 5 символов>
//   - StatefulSet: <name>-<ordinal>
//
// Остальные имена, а также имена, от которых после разбора ничего
// не остаётся, возвращаются без изменений.
func parseOwnerName(hostname string) string {
	parts := strings.Split(hostname, "-")
	n := len(parts)

	owner := hostname
	switch {
	case n >= 3 && len(parts[n-1]) == 5 && isAlnum(parts[n-1]) &&
		len(parts[n-2]) >= 6 && len(parts[n-2]) <= 10 && isAlnum(parts[n-2]):
		owner = strings.Join(parts[:n-2], "-")
	case n >= 2 && isDigits(parts[n-1]):
		owner = strings.Join(parts[:n-1], "-")
	}
	if strings.Trim(owner, "-") == "" {
		return hostname
	}
	return owner
}

func isAlnum(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

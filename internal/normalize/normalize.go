// Package normalize parses raw log messages into structured fields,
// dispatched by the event's source tag. Per spec.md §4.3 it never
// fails fatally: an unrecognized source or unmatched regex simply
// yields no fields.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nginxCombined = regexp.MustCompile(
		`^(?P<ip>\S+) \S+ (?P<remote_user>\S+) \[[^\]]+\] "(?P<verb>\S+) (?P<path>\S+) \S+" (?P<status>\d+) (?P<bytes>\d+) "[^"]*" "(?P<user_agent>[^"]*)"`)

	sshFailed = regexp.MustCompile(
		`Failed password for (?:invalid user )?(?P<user>\S+) from (?P<ip>\S+)`)
	sshAccepted = regexp.MustCompile(
		`Accepted password for (?P<user>\S+) from (?P<ip>\S+)`)

	ufwBlock = regexp.MustCompile(`SRC=(?P<src>\S+).*DST=(?P<dst>\S+).*PROTO=(?P<proto>\S+)`)
)

// Normalizer dispatches raw messages to a per-source parser.
type Normalizer struct{}

// New builds a Normalizer. It holds no state; spec.md names no
// per-source configuration for parsing itself (only detection rules
// are configurable), so there is nothing to inject here.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize parses message given its source tag and returns extracted
// top-level fields. The caller merges these non-destructively. Only
// nginx and ssh are source-tag-gated; firewall parsing is
// content-gated on "[UFW BLOCK]" and is tried for any other source,
// since UFW lines commonly arrive tagged as "syslog" rather than
// "firewall".
func (n *Normalizer) Normalize(source, message string) map[string]any {
	switch source {
	case "nginx":
		return parseNginx(message)
	case "ssh":
		return parseSSH(message)
	default:
		return parseFirewall(message)
	}
}

func parseNginx(message string) map[string]any {
	m := nginxCombined.FindStringSubmatch(message)
	if m == nil {
		return nil
	}
	fields := namedGroups(nginxCombined, m)
	status, _ := strconv.Atoi(fields["status"])
	bytes, _ := strconv.ParseInt(fields["bytes"], 10, 64)
	out := map[string]any{
		"ip":         fields["ip"],
		"verb":       fields["verb"],
		"path":       fields["path"],
		"status":     status,
		"bytes":      bytes,
		"user_agent": fields["user_agent"],
	}
	if u := fields["remote_user"]; u != "" && u != "-" {
		out["user"] = u
	}
	return out
}

func parseSSH(message string) map[string]any {
	if m := sshFailed.FindStringSubmatch(message); m != nil {
		fields := namedGroups(sshFailed, m)
		return map[string]any{
			"user":       fields["user"],
			"ip":         fields["ip"],
			"event_type": "ssh_login_failed",
			"action":     "block",
		}
	}
	if m := sshAccepted.FindStringSubmatch(message); m != nil {
		fields := namedGroups(sshAccepted, m)
		return map[string]any{
			"user":       fields["user"],
			"ip":         fields["ip"],
			"event_type": "ssh_login_success",
		}
	}
	return nil
}

func parseFirewall(message string) map[string]any {
	if !strings.Contains(message, "[UFW BLOCK]") {
		return nil
	}
	m := ufwBlock.FindStringSubmatch(message)
	if m == nil {
		return nil
	}
	fields := namedGroups(ufwBlock, m)
	return map[string]any{
		"ip":         fields["src"],
		"dst":        fields["dst"],
		"proto":      fields["proto"],
		"event_type": "firewall_block",
		"action":     "blocked",
		"source":     "firewall",
	}
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = match[i]
	}
	return out
}

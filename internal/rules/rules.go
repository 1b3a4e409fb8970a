// Package rules evaluates the declarative, stateful detection rules of
// spec.md §4.5 against an enriched event. Grounded in the teacher's
// policy.Engine: a fixed evaluator over a closed rule set, with severity
// escalation tracked through event.Severity's ordered int ranks and the
// maxSeverity helper (the Go counterpart of
// original_source/backend/app/services/detection_rules.py's
// sev_map/update_severity closure).
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentrywire/internal/event"
	"sentrywire/internal/statestore"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// SSHBruteForceConfig configures the ssh_brute_force rule.
type SSHBruteForceConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Severity      string `yaml:"severity"`
	WindowSeconds int    `yaml:"window_seconds"`
	Threshold     int64  `yaml:"threshold"`
}

// SudoUsageConfig configures the sudo_usage rule.
type SudoUsageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Severity string `yaml:"severity"`
}

// SuspiciousAdminConfig configures the suspicious_admin rule.
type SuspiciousAdminConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Severity   string   `yaml:"severity"`
	AdminUsers []string `yaml:"admin_users"`
}

// Config is the declarative rules configuration loaded from YAML at
// startup (spec.md §6).
type Config struct {
	SSHBruteForce    SSHBruteForceConfig   `yaml:"ssh_brute_force"`
	SudoUsage        SudoUsageConfig       `yaml:"sudo_usage"`
	SuspiciousAdmin  SuspiciousAdminConfig `yaml:"suspicious_admin"`
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		SSHBruteForce: SSHBruteForceConfig{
			Enabled: true, Severity: "HIGH", WindowSeconds: 60, Threshold: 5,
		},
		SudoUsage: SudoUsageConfig{
			Enabled: true, Severity: "MEDIUM",
		},
		SuspiciousAdmin: SuspiciousAdminConfig{
			Enabled: true, Severity: "CRITICAL",
			AdminUsers: []string{"root", "admin", "ubuntu"},
		},
	}
}

// Engine evaluates the fixed rule set against events, mutating
// StateStore counters/sets as it goes.
type Engine struct {
	cfg   Config
	store statestore.Store
}

// New builds an Engine bound to cfg and store.
func New(cfg Config, store statestore.Store) *Engine {
	return &Engine{cfg: cfg, store: store}
}

// Evaluate runs every enabled rule, in declared order, against e.
// Returns the alerts produced and the max severity across them; all
// matching rules vote and the highest severity wins.
func (en *Engine) Evaluate(ctx context.Context, e *event.Event) ([]string, event.Severity, error) {
	var alerts []string
	var maxSev event.Severity

	if en.cfg.SSHBruteForce.Enabled {
		alert, sev, err := en.evalSSHBruteForce(ctx, e)
		if err != nil {
			return alerts, maxSev, fmt.Errorf("rules: ssh_brute_force: %w", err)
		}
		if alert != "" {
			alerts = append(alerts, alert)
			maxSev = maxSeverity(maxSev, sev)
		}
	}

	if en.cfg.SudoUsage.Enabled {
		if alert, sev := en.evalSudoUsage(e); alert != "" {
			alerts = append(alerts, alert)
			maxSev = maxSeverity(maxSev, sev)
		}
	}

	if en.cfg.SuspiciousAdmin.Enabled {
		alert, sev, err := en.evalSuspiciousAdmin(ctx, e)
		if err != nil {
			return alerts, maxSev, fmt.Errorf("rules: suspicious_admin: %w", err)
		}
		if alert != "" {
			alerts = append(alerts, alert)
			maxSev = maxSeverity(maxSev, sev)
		}
	}

	return alerts, maxSev, nil
}

func (en *Engine) evalSSHBruteForce(ctx context.Context, e *event.Event) (string, event.Severity, error) {
	if e.EventType != "ssh_login_failed" {
		return "", 0, nil
	}
	ip := e.EffectiveIP()
	if ip == "" {
		return "", 0, nil
	}

	window := en.cfg.SSHBruteForce.WindowSeconds
	if window <= 0 {
		window = 60
	}
	threshold := en.cfg.SSHBruteForce.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	count, err := en.store.IncrementRate(ctx, "risk:brute:"+ip, secondsToDuration(window))
	if err != nil {
		return "", 0, err
	}
	if count < threshold {
		return "", 0, nil
	}
	return fmt.Sprintf("SSH Brute Force Detected from %s (%d failures)", ip, count),
		event.ParseSeverity(en.cfg.SSHBruteForce.Severity), nil
}

func (en *Engine) evalSudoUsage(e *event.Event) (string, event.Severity) {
	lower := strings.ToLower(e.Message)
	if !strings.Contains(lower, "sudo") {
		return "", 0
	}
	if strings.Contains(lower, "command not found") {
		return "", 0
	}
	return "Sudo Command Executed", event.ParseSeverity(en.cfg.SudoUsage.Severity)
}

func (en *Engine) evalSuspiciousAdmin(ctx context.Context, e *event.Event) (string, event.Severity, error) {
	if e.User == "" {
		return "", 0, nil
	}
	isAdmin := false
	for _, u := range en.cfg.SuspiciousAdmin.AdminUsers {
		if u == e.User {
			isAdmin = true
			break
		}
	}
	if !isAdmin {
		return "", 0, nil
	}
	ip := e.EffectiveIP()
	if ip == "" {
		return "", 0, nil
	}

	known, err := en.store.SetContains(ctx, "state:admin_ips:"+e.User, ip)
	if err != nil {
		return "", 0, err
	}
	if known {
		return "", 0, nil
	}
	if err := en.store.SetAdd(ctx, "state:admin_ips:"+e.User, ip); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("Suspicious Admin Login (New IP): User %s from %s", e.User, ip),
		event.ParseSeverity(en.cfg.SuspiciousAdmin.Severity), nil
}

func maxSeverity(a, b event.Severity) event.Severity {
	if b > a {
		return b
	}
	return a
}

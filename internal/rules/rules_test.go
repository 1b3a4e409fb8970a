package rules

import (
	"context"
	"testing"

	"sentrywire/internal/event"
	"sentrywire/internal/statestore"
)

func TestEvaluate_SSHBruteForce_BelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	e := event.New("ssh", "Failed password for root from 1.2.3.4")
	e.IP = "1.2.3.4"
	e.EventType = "ssh_login_failed"

	alerts, sev, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts below threshold, got %v", alerts)
	}
	if sev != event.SeverityInfo {
		t.Errorf("expected INFO severity, got %s", sev)
	}
}

func TestEvaluate_SSHBruteForce_AtThreshold(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	var alerts []string
	var sev event.Severity
	for i := 0; i < 5; i++ {
		e := event.New("ssh", "Failed password for root from 1.2.3.4")
		e.IP = "1.2.3.4"
		e.EventType = "ssh_login_failed"
		var err error
		alerts, sev, err = en.Evaluate(ctx, e)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert at threshold, got %v", alerts)
	}
	if sev != event.SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", sev)
	}
}

func TestEvaluate_SudoUsage(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	e := event.New("ssh", "root : TTY=pts/0 ; USER=root ; COMMAND=/usr/bin/sudo cat /etc/shadow")
	alerts, sev, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0] != "Sudo Command Executed" {
		t.Fatalf("expected sudo alert, got %v", alerts)
	}
	if sev != event.SeverityMedium {
		t.Errorf("expected MEDIUM severity, got %s", sev)
	}
}

func TestEvaluate_SudoUsage_CommandNotFound(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	e := event.New("ssh", "sudo: thing: command not found")
	alerts, _, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alert for 'command not found', got %v", alerts)
	}
}

func TestEvaluate_SuspiciousAdmin_NewIP(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	e := event.New("ssh", "Accepted password for root from 5.6.7.8")
	e.IP = "5.6.7.8"
	e.User = "root"

	alerts, sev, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert for new admin IP, got %v", alerts)
	}
	if sev != event.SeverityCritical {
		t.Errorf("expected CRITICAL severity, got %s", sev)
	}

	// Second login from the same IP is now known and should not re-alert.
	e2 := event.New("ssh", "Accepted password for root from 5.6.7.8")
	e2.IP = "5.6.7.8"
	e2.User = "root"
	alerts2, _, err := en.Evaluate(ctx, e2)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts2) != 0 {
		t.Errorf("expected no alert for known admin IP, got %v", alerts2)
	}
}

func TestEvaluate_SuspiciousAdmin_NonAdminUser(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	e := event.New("ssh", "Accepted password for alice from 5.6.7.8")
	e.IP = "5.6.7.8"
	e.User = "alice"

	alerts, _, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alert for non-admin user, got %v", alerts)
	}
}

func TestEvaluate_MaxSeverityWins(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	en := New(DefaultConfig(), store)

	// Trigger both sudo_usage (MEDIUM) and suspicious_admin (CRITICAL)
	// on the same event; severity must reflect the higher rank.
	e := event.New("ssh", "root : COMMAND=/usr/bin/sudo whoami")
	e.IP = "9.9.9.9"
	e.User = "root"

	_, sev, err := en.Evaluate(ctx, e)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sev != event.SeverityCritical {
		t.Errorf("expected max-wins CRITICAL severity, got %s", sev)
	}
}

package normalize

import "testing"

func TestNormalize_Nginx(t *testing.T) {
	n := New()
	msg := `203.0.113.5 - - [10/Oct/2023:13:55:36 -0700] "GET /login HTTP/1.1" 200 1234 "-" "curl/8.0"`

	fields := n.Normalize("nginx", msg)
	if fields == nil {
		t.Fatal("expected fields, got nil")
	}
	if fields["ip"] != "203.0.113.5" {
		t.Errorf("expected ip 203.0.113.5, got %v", fields["ip"])
	}
	if fields["verb"] != "GET" {
		t.Errorf("expected verb GET, got %v", fields["verb"])
	}
	if fields["path"] != "/login" {
		t.Errorf("expected path /login, got %v", fields["path"])
	}
	if fields["status"] != 200 {
		t.Errorf("expected status 200, got %v", fields["status"])
	}
	if fields["bytes"] != int64(1234) {
		t.Errorf("expected bytes 1234, got %v", fields["bytes"])
	}
	if fields["user_agent"] != "curl/8.0" {
		t.Errorf("expected user_agent curl/8.0, got %v", fields["user_agent"])
	}
	if _, ok := fields["user"]; ok {
		t.Error("expected no user field for '-' remote user")
	}
}

func TestNormalize_Nginx_WithRemoteUser(t *testing.T) {
	n := New()
	msg := `203.0.113.5 - bob [10/Oct/2023:13:55:36 -0700] "POST /admin HTTP/1.1" 403 0 "-" "Mozilla/5.0"`

	fields := n.Normalize("nginx", msg)
	if fields["user"] != "bob" {
		t.Errorf("expected user bob, got %v", fields["user"])
	}
}

func TestNormalize_SSHFailed(t *testing.T) {
	n := New()
	msg := "Failed password for root from 198.51.100.7 port 22 ssh2"

	fields := n.Normalize("ssh", msg)
	if fields == nil {
		t.Fatal("expected fields, got nil")
	}
	if fields["user"] != "root" {
		t.Errorf("expected user root, got %v", fields["user"])
	}
	if fields["ip"] != "198.51.100.7" {
		t.Errorf("expected ip 198.51.100.7, got %v", fields["ip"])
	}
	if fields["event_type"] != "ssh_login_failed" {
		t.Errorf("expected event_type ssh_login_failed, got %v", fields["event_type"])
	}
	if fields["action"] != "block" {
		t.Errorf("expected action block, got %v", fields["action"])
	}
}

func TestNormalize_SSHFailed_InvalidUser(t *testing.T) {
	n := New()
	msg := "Failed password for invalid user admin from 198.51.100.7 port 22 ssh2"

	fields := n.Normalize("ssh", msg)
	if fields["user"] != "admin" {
		t.Errorf("expected user admin, got %v", fields["user"])
	}
}

func TestNormalize_SSHAccepted(t *testing.T) {
	n := New()
	msg := "Accepted password for deploy from 198.51.100.7 port 22 ssh2"

	fields := n.Normalize("ssh", msg)
	if fields["event_type"] != "ssh_login_success" {
		t.Errorf("expected event_type ssh_login_success, got %v", fields["event_type"])
	}
	if _, ok := fields["action"]; ok {
		t.Error("accepted logins should not set an action field")
	}
}

func TestNormalize_Firewall(t *testing.T) {
	n := New()
	msg := "[UFW BLOCK] IN=eth0 OUT= SRC=192.0.2.1 DST=10.0.0.5 LEN=40 PROTO=TCP SPT=1234 DPT=22"

	fields := n.Normalize("firewall", msg)
	if fields == nil {
		t.Fatal("expected fields, got nil")
	}
	if fields["ip"] != "192.0.2.1" {
		t.Errorf("expected ip 192.0.2.1, got %v", fields["ip"])
	}
	if fields["dst"] != "10.0.0.5" {
		t.Errorf("expected dst 10.0.0.5, got %v", fields["dst"])
	}
	if fields["proto"] != "TCP" {
		t.Errorf("expected proto TCP, got %v", fields["proto"])
	}
	if fields["event_type"] != "firewall_block" {
		t.Errorf("expected event_type firewall_block, got %v", fields["event_type"])
	}
}

func TestNormalize_Firewall_NonBlock(t *testing.T) {
	n := New()
	fields := n.Normalize("firewall", "some unrelated firewall log line")
	if fields != nil {
		t.Error("expected nil for non-[UFW BLOCK] firewall message")
	}
}

func TestNormalize_NoMatch(t *testing.T) {
	n := New()
	if fields := n.Normalize("ssh", "unrecognized garbage line"); fields != nil {
		t.Error("expected nil for unmatched ssh message")
	}
}

func TestNormalize_UnknownSource(t *testing.T) {
	n := New()
	if fields := n.Normalize("unknown-app", "anything at all"); fields != nil {
		t.Error("expected nil for an unknown source tag with no UFW content")
	}
}

func TestNormalize_UnknownSource_FirewallContentFallsThrough(t *testing.T) {
	n := New()
	msg := "[UFW BLOCK] IN=eth0 OUT= SRC=192.0.2.1 DST=10.0.0.5 LEN=40 PROTO=TCP SPT=1234 DPT=22"

	fields := n.Normalize("syslog", msg)
	if fields == nil {
		t.Fatal("expected a UFW line to parse regardless of its source tag")
	}
	if fields["ip"] != "192.0.2.1" {
		t.Errorf("expected ip 192.0.2.1, got %v", fields["ip"])
	}
	if fields["event_type"] != "firewall_block" {
		t.Errorf("expected event_type firewall_block, got %v", fields["event_type"])
	}
}

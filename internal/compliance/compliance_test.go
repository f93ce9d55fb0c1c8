package compliance

import "testing"

const hardenedConfig = `
hostname router-core-1
!
service password-encryption
ip ssh version 2
!
aaa new-model
aaa authentication login default local
!
ntp server 10.0.0.100
logging host 10.0.0.200
!
snmp-server community NetOpsRO RO
!
banner login ^C
*** AUTHORIZED ACCESS ONLY ***
^C
!
line con 0
 exec-timeout 5 0
line vty 0 15
 access-class ACL_VTY in
 transport input ssh
`

const laxConfig = `
hostname switch-access-1
!
ip ssh version 2
!
snmp-server community public RO
!
ntp server 10.0.0.100
!
line con 0
 no exec-timeout
line vty 0 15
 transport input ssh telnet
`

func newAuditor(t *testing.T) *Auditor {
	t.Helper()
	a, err := NewAuditor()
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}
	return a
}

func resultFor(t *testing.T, rep Report, rule string) Result {
	t.Helper()
	for _, r := range rep.Results {
		if r.RuleName == rule {
			return r
		}
	}
	t.Fatalf("no result for rule %q", rule)
	return Result{}
}

func TestAudit_HardenedConfigPasses(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	rep := a.Audit("router-core-1", hardenedConfig, "")

	if rep.NonCompliant > 1 {
		t.Errorf("non-compliant = %d, want at most 1 for hardened config", rep.NonCompliant)
	}
	for _, rule := range []string{
		"SSH v2 Required", "Password Encryption", "Banner Required",
		"NTP Configured", "Logging Configured", "Console Timeout",
		"VTY Access Control", "SNMP Community Not Default", "AAA Authentication",
	} {
		if got := resultFor(t, rep, rule); got.Status != StatusCompliant {
			t.Errorf("%s = %s, want compliant", rule, got.Status)
		}
	}
	if rep.Score < 80 {
		t.Errorf("score = %.1f, want >= 80", rep.Score)
	}
}

func TestAudit_LaxConfigFails(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	rep := a.Audit("switch-access-1", laxConfig, "")

	tests := []struct {
		rule string
		want Status
	}{
		{"SSH v2 Required", StatusCompliant},
		{"SNMP Community Not Default", StatusNonCompliant},
		{"Password Encryption", StatusNonCompliant},
		{"Logging Configured", StatusNonCompliant},
		{"Console Timeout", StatusNonCompliant},
		{"VTY Access Control", StatusNonCompliant},
		{"NTP Configured", StatusCompliant},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got := resultFor(t, rep, tt.rule)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if tt.want == StatusNonCompliant && got.Remediation == "" {
				t.Error("failed check carries no remediation")
			}
		})
	}

	critical := rep.CriticalFailures()
	if len(critical) == 0 {
		t.Error("expected critical failures for lax config")
	}
}

func TestAudit_EmptyConfigNotAssessed(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	rep := a.Audit("unknown-device", "", "")

	for _, r := range rep.Results {
		if r.Status != StatusNotAssessed {
			t.Errorf("%s = %s, want not_assessed for empty config", r.RuleName, r.Status)
		}
	}
	if rep.Score != 0 {
		t.Errorf("score = %.1f, want 0 with nothing assessed", rep.Score)
	}
}

func TestAudit_FrameworkFilter(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	rep := a.Audit("router-core-1", hardenedConfig, "CIS")

	if len(rep.Results) == 0 {
		t.Fatal("no CIS results")
	}
	for _, r := range rep.Results {
		if r.Framework != "CIS" {
			t.Errorf("rule %s has framework %s, want CIS only", r.RuleName, r.Framework)
		}
	}
}

func TestAddRule_Custom(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	before := a.RuleCount()

	err := a.AddRule(Rule{
		Name:        "Telnet Disabled",
		Framework:   "CUSTOM",
		Severity:    SeverityCritical,
		CheckType:   CheckNotContains,
		Pattern:     "transport input ssh telnet",
		Remediation: "Configure: transport input ssh",
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if a.RuleCount() != before+1 {
		t.Errorf("rule count = %d, want %d", a.RuleCount(), before+1)
	}

	rep := a.Audit("switch-access-1", laxConfig, "CUSTOM")
	if got := resultFor(t, rep, "Telnet Disabled"); got.Status != StatusNonCompliant {
		t.Errorf("status = %s, want non_compliant", got.Status)
	}
}

func TestAddRule_Invalid(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)

	tests := []struct {
		name string
		rule Rule
	}{
		{"missing pattern", Rule{Name: "x", CheckType: CheckContains}},
		{"bad regex", Rule{Name: "x", CheckType: CheckRegex, Pattern: "("}},
		{"unknown check type", Rule{Name: "x", CheckType: "glob", Pattern: "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.AddRule(tt.rule); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFrameworks(t *testing.T) {
	t.Parallel()
	a := newAuditor(t)
	got := a.Frameworks()
	want := []string{"CIS", "NIST-800-53", "PCI-DSS"}
	if len(got) != len(want) {
		t.Fatalf("frameworks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frameworks = %v, want %v", got, want)
		}
	}
}

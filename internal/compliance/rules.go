package compliance

// builtinRules is the default baseline: NIST 800-53 access and audit
// controls, CIS benchmark line checks, and a PCI-DSS hygiene check.
func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "SSH v2 Required",
			Description: "SSH version 2 must be configured (v1 is insecure)",
			Framework:   "NIST-800-53",
			ControlID:   "AC-17(2)",
			Severity:    SeverityCritical,
			CheckType:   CheckContains,
			Pattern:     "ip ssh version 2",
			Remediation: "Configure: ip ssh version 2",
		},
		{
			Name:        "Password Encryption",
			Description: "Service password-encryption must be enabled",
			Framework:   "NIST-800-53",
			ControlID:   "IA-5(1)",
			Severity:    SeverityCritical,
			CheckType:   CheckContains,
			Pattern:     "service password-encryption",
			Remediation: "Configure: service password-encryption",
		},
		{
			Name:        "Banner Required",
			Description: "Login banner must be configured for legal notice",
			Framework:   "NIST-800-53",
			ControlID:   "AC-8",
			Severity:    SeverityWarning,
			CheckType:   CheckRegex,
			Pattern:     `banner\s+(login|motd)\s+`,
			Remediation: "Configure: banner login ^Authorized access only^",
		},
		{
			Name:        "NTP Configured",
			Description: "NTP must be configured for accurate timestamps",
			Framework:   "NIST-800-53",
			ControlID:   "AU-8",
			Severity:    SeverityWarning,
			CheckType:   CheckRegex,
			Pattern:     `ntp server\s+\S+`,
			Remediation: "Configure: ntp server <NTP_SERVER_IP>",
		},
		{
			Name:        "Logging Configured",
			Description: "Remote syslog must be configured",
			Framework:   "NIST-800-53",
			ControlID:   "AU-6",
			Severity:    SeverityCritical,
			CheckType:   CheckRegex,
			Pattern:     `logging host\s+\S+`,
			Remediation: "Configure: logging host <SYSLOG_SERVER_IP>",
		},
		{
			Name:        "Console Timeout",
			Description: "Console line must have an exec-timeout",
			Framework:   "CIS",
			ControlID:   "CIS-1.1.7",
			Severity:    SeverityWarning,
			CheckType:   CheckRegex,
			Pattern:     `line con.*\n.*exec-timeout\s+\d+`,
			Remediation: "Configure under line con 0: exec-timeout 5 0",
		},
		{
			Name:        "VTY Access Control",
			Description: "VTY lines must have access-class configured",
			Framework:   "CIS",
			ControlID:   "CIS-1.2.2",
			Severity:    SeverityCritical,
			CheckType:   CheckRegex,
			Pattern:     `line vty.*\n.*access-class\s+\S+`,
			Remediation: "Configure under line vty 0 15: access-class ACL_VTY in",
		},
		{
			Name:        "SNMP Community Not Default",
			Description: "Default SNMP communities (public/private) must not be used",
			Framework:   "CIS",
			ControlID:   "CIS-2.1.1",
			Severity:    SeverityCritical,
			CheckType:   CheckNotContains,
			Pattern:     "snmp-server community public",
			Remediation: "Remove: no snmp-server community public",
		},
		{
			Name:        "Unused Interfaces Shutdown",
			Description: "Unused interfaces should be administratively shut down",
			Framework:   "PCI-DSS",
			ControlID:   "PCI-1.1.6",
			Severity:    SeverityWarning,
			CheckType:   CheckRegex,
			Pattern:     `interface.*\n\s+shutdown`,
			Remediation: "Shut down unused interfaces: shutdown",
		},
		{
			Name:        "AAA Authentication",
			Description: "AAA authentication must be configured",
			Framework:   "NIST-800-53",
			ControlID:   "IA-2",
			Severity:    SeverityCritical,
			CheckType:   CheckContains,
			Pattern:     "aaa authentication login",
			Remediation: "Configure: aaa new-model; aaa authentication login default local",
		},
	}
}

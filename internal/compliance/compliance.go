// Package compliance audits device configurations against security
// framework baselines (NIST 800-53, CIS, PCI-DSS) plus custom rules.
package compliance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Status is the outcome of one rule evaluation.
type Status string

const (
	StatusCompliant    Status = "compliant"
	StatusNonCompliant Status = "non_compliant"
	StatusNotAssessed  Status = "not_assessed"
)

// Severity ranks how serious a failed check is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CheckType selects how a rule's pattern is applied to the config text.
type CheckType string

const (
	CheckContains    CheckType = "contains"
	CheckNotContains CheckType = "not_contains"
	CheckRegex       CheckType = "regex"
)

// Rule is one compliance check against a device configuration.
type Rule struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Framework   string    `json:"framework"`
	ControlID   string    `json:"control_id"`
	Severity    Severity  `json:"severity"`
	CheckType   CheckType `json:"check_type"`
	Pattern     string    `json:"pattern"`
	Remediation string    `json:"remediation"`
}

// Result is the evaluation of one rule for one device.
type Result struct {
	RuleName    string   `json:"rule_name"`
	DeviceID    string   `json:"device_id"`
	Status      Status   `json:"status"`
	Framework   string   `json:"framework"`
	ControlID   string   `json:"control_id"`
	Severity    Severity `json:"severity"`
	Details     string   `json:"details"`
	Remediation string   `json:"remediation,omitempty"` // set on failure
}

// Report aggregates one device's results.
type Report struct {
	DeviceID     string   `json:"device_id"`
	Results      []Result `json:"results"`
	Compliant    int      `json:"compliant"`
	NonCompliant int      `json:"non_compliant"`
	Score        float64  `json:"score"` // percent of passed checks
}

// Auditor evaluates rules against configurations. Construct with
// NewAuditor; the zero value has no rules.
type Auditor struct {
	rules    []Rule
	compiled map[string]*regexp.Regexp
}

// NewAuditor creates an auditor preloaded with the builtin rule set.
func NewAuditor() (*Auditor, error) {
	a := &Auditor{compiled: make(map[string]*regexp.Regexp)}
	for _, r := range builtinRules() {
		if err := a.AddRule(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddRule registers a rule, compiling regex patterns eagerly so malformed
// custom rules fail at registration rather than during an audit.
func (a *Auditor) AddRule(r Rule) error {
	if r.Name == "" || r.Pattern == "" {
		return fmt.Errorf("rule needs a name and a pattern")
	}
	switch r.CheckType {
	case CheckContains, CheckNotContains:
	case CheckRegex:
		re, err := regexp.Compile("(?im)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		a.compiled[r.Name] = re
	default:
		return fmt.Errorf("rule %q: unknown check type %q", r.Name, r.CheckType)
	}
	a.rules = append(a.rules, r)
	return nil
}

// RuleCount reports how many rules are registered.
func (a *Auditor) RuleCount() int {
	return len(a.rules)
}

// Frameworks lists the distinct frameworks across registered rules.
func (a *Auditor) Frameworks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range a.rules {
		if !seen[r.Framework] {
			seen[r.Framework] = true
			out = append(out, r.Framework)
		}
	}
	sort.Strings(out)
	return out
}

// Audit checks one device config against every rule, or only the rules of
// one framework when framework is non-empty. An empty config marks every
// rule not assessed instead of failing it.
func (a *Auditor) Audit(deviceID, config, framework string) Report {
	report := Report{DeviceID: deviceID}
	for _, r := range a.rules {
		if framework != "" && r.Framework != framework {
			continue
		}
		status := a.evaluate(r, config)
		res := Result{
			RuleName:  r.Name,
			DeviceID:  deviceID,
			Status:    status,
			Framework: r.Framework,
			ControlID: r.ControlID,
			Severity:  r.Severity,
		}
		switch status {
		case StatusCompliant:
			res.Details = r.Name + ": PASS"
			report.Compliant++
		case StatusNonCompliant:
			res.Details = r.Name + ": FAIL"
			res.Remediation = r.Remediation
			report.NonCompliant++
		default:
			res.Details = r.Name + ": NOT ASSESSED"
		}
		report.Results = append(report.Results, res)
	}
	if n := report.Compliant + report.NonCompliant; n > 0 {
		report.Score = float64(report.Compliant) / float64(n) * 100
	}
	return report
}

func (a *Auditor) evaluate(r Rule, config string) Status {
	if config == "" {
		return StatusNotAssessed
	}
	switch r.CheckType {
	case CheckContains:
		if strings.Contains(config, r.Pattern) {
			return StatusCompliant
		}
		return StatusNonCompliant
	case CheckNotContains:
		if strings.Contains(config, r.Pattern) {
			return StatusNonCompliant
		}
		return StatusCompliant
	case CheckRegex:
		if a.compiled[r.Name].MatchString(config) {
			return StatusCompliant
		}
		return StatusNonCompliant
	}
	return StatusNotAssessed
}

// CriticalFailures filters a report down to failed critical checks.
func (r Report) CriticalFailures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusNonCompliant && res.Severity == SeverityCritical {
			out = append(out, res)
		}
	}
	return out
}

// Package redact strips credentials from text before it is persisted.
package redact

import (
	"regexp"
	"sort"
)

// RedactionConfig controls what the Redactor redacts.
type RedactionConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RedactIPs      string   `yaml:"redact_ips" validate:"omitempty,oneof=private_only all none"`
	RedactEmails   bool     `yaml:"redact_emails"`
	CustomPatterns []string `yaml:"custom_patterns"`
	Placeholder    string   `yaml:"placeholder"`
}

// DefaultConfig returns a RedactionConfig with redaction on and private
// addresses hidden. Emails are kept: they identify the admin account.
func DefaultConfig() RedactionConfig {
	return RedactionConfig{
		Enabled:     true,
		RedactIPs:   "private_only",
		Placeholder: "[REDACTED]",
	}
}

// Redactor applies a sorted set of redaction rules to strings.
type Redactor struct {
	rules       []rule
	placeholder string
}

// New compiles a Redactor from the given config. If cfg.Enabled is false,
// the returned Redactor is a passthrough (no rules, Redact returns input
// unchanged).
func New(cfg RedactionConfig) *Redactor {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = "[REDACTED]"
	}
	if !cfg.Enabled {
		return &Redactor{placeholder: placeholder}
	}

	var rules []rule
	rules = append(rules, builtinRules(placeholder)...)
	if cfg.RedactEmails {
		rules = append(rules, emailRule(placeholder))
	}
	rules = append(rules, ipRules(cfg.RedactIPs, placeholder)...)
	rules = append(rules, customRules(cfg.CustomPatterns, placeholder)...)

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &Redactor{
		rules:       rules,
		placeholder: placeholder,
	}
}

// Redact applies all compiled rules sequentially to the input string and
// returns the redacted result.
func (r *Redactor) Redact(input string) string {
	if len(r.rules) == 0 {
		return input
	}

	result := input
	for _, rule := range r.rules {
		if rule.replace != nil {
			result = rule.pattern.ReplaceAllStringFunc(result, rule.replace)
		} else {
			result = rule.pattern.ReplaceAllString(result, r.placeholder)
		}
	}
	return result
}

var sensitiveKeyRe = regexp.MustCompile(`(?i)(pass|secret|token|auth_key|salt)`)

// RedactFields returns a copy of fields with string values redacted.
// Values under keys naming a credential are replaced outright.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if len(r.rules) > 0 && sensitiveKeyRe.MatchString(k) {
			out[k] = r.placeholder
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

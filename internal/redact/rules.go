package redact

import "regexp"

// rule represents a single redaction rule with a compiled regex pattern.
type rule struct {
	name     string
	priority int
	pattern  *regexp.Regexp
	replace  func(match string) string // nil means use Redactor.placeholder
}

var (
	// Structured secrets: key=value or key: value where key names a
	// password, token, secret or salt.
	structuredSecretRe = regexp.MustCompile(
		`(?i)([\w]*(?:password|user_pass|secret|token|auth_key|salt))\s*([=:])\s*(\S+)`,
	)

	// Bearer tokens in Authorization headers.
	bearerTokenRe = regexp.MustCompile(
		`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`,
	)

	// bcrypt hashes, bare or with the platform's $wp prefix.
	bcryptRe = regexp.MustCompile(
		`(?:\$wp)?\$2[abxy]\$\d{2}\$[./A-Za-z0-9]{53}`,
	)

	// Portable phpass hashes.
	phpassRe = regexp.MustCompile(
		`\$[PH]\$[./A-Za-z0-9]{31}`,
	)

	// Argon2 hashes.
	argon2Re = regexp.MustCompile(
		`\$argon2(?:id|i|d)\$[^\s"']+`,
	)

	emailRe = regexp.MustCompile(
		`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	)

	// Private IPv4 ranges: 10.x.x.x, 172.16-31.x.x, 192.168.x.x
	privateIPRe = regexp.MustCompile(
		`\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3})\b`,
	)

	// Any IPv4 address.
	allIPRe = regexp.MustCompile(
		`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`,
	)
)

func whole(placeholder string) func(string) string {
	return func(string) string { return placeholder }
}

// builtinRules returns the credential rules. Priority 10-50 so they run
// before email (70), IP (80) and custom rules (90).
func builtinRules(placeholder string) []rule {
	return []rule{
		{
			name:     "structured_secret",
			priority: 10,
			pattern:  structuredSecretRe,
			replace: func(match string) string {
				// Preserve the key name and separator, redact only the value.
				loc := structuredSecretRe.FindStringSubmatchIndex(match)
				if loc == nil {
					return placeholder
				}
				key := match[loc[2]:loc[3]]
				sep := match[loc[4]:loc[5]]
				spacing := match[loc[5]:loc[6]]
				return key + sep + spacing + placeholder
			},
		},
		{name: "bearer_token", priority: 20, pattern: bearerTokenRe, replace: whole(placeholder)},
		{name: "bcrypt_hash", priority: 30, pattern: bcryptRe, replace: whole(placeholder)},
		{name: "phpass_hash", priority: 40, pattern: phpassRe, replace: whole(placeholder)},
		{name: "argon2_hash", priority: 50, pattern: argon2Re, replace: whole(placeholder)},
	}
}

func emailRule(placeholder string) rule {
	return rule{name: "email", priority: 70, pattern: emailRe, replace: whole(placeholder)}
}

// ipRules returns rules for IP address redaction based on the mode.
//   - "private_only": redact RFC 1918 private addresses only
//   - "all":          redact any IPv4 address
//   - "none":         no IP redaction rules
func ipRules(mode, placeholder string) []rule {
	switch mode {
	case "private_only":
		return []rule{{name: "private_ip", priority: 80, pattern: privateIPRe, replace: whole(placeholder)}}
	case "all":
		return []rule{{name: "all_ip", priority: 80, pattern: allIPRe, replace: whole(placeholder)}}
	default: // "none" or unrecognized
		return nil
	}
}

// customRules compiles user-supplied regex patterns into rules.
// Invalid patterns are silently skipped.
func customRules(patterns []string, placeholder string) []rule {
	var rules []rule
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue // skip invalid patterns
		}
		rules = append(rules, rule{
			name:     "custom_" + p,
			priority: 90 + i,
			pattern:  re,
			replace:  whole(placeholder),
		})
	}
	return rules
}

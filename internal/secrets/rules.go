package secrets

import "regexp"

type rule struct {
	id      string
	pattern *regexp.Regexp
	// group selects the submatch to redact; 0 redacts the whole match.
	group int
}

// builtinRules catch assignments and self-identifying tokens that commonly
// show up in pasted shell output.
var builtinRules = []rule{
	{id: "aws-access-key-id", pattern: regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{id: "github-token", pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{id: "slack-token", pattern: regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}\b`)},
	{id: "private-key", pattern: regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{id: "bearer-token", pattern: regexp.MustCompile(`(?i)\bauthorization:\s*bearer\s+([A-Za-z0-9._~+/=-]{16,})`), group: 1},
	{id: "generic-api-key", pattern: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|access[_-]?token|secret[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-/+=]{16,})['"]?`), group: 1},
	{id: "password-assignment", pattern: regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`), group: 1},
}

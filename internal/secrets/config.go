package secrets

import (
	"fmt"
	"regexp"
)

// Config configures a Redactor.
type Config struct {
	// Enabled controls whether redaction is active (default: true)
	Enabled bool `koanf:"enabled"`

	// RedactionString replaces each detected secret (default: "[REDACTED]")
	RedactionString string `koanf:"redaction_string"`

	// Gitleaks enables the gitleaks default rule set in addition to the
	// built-in patterns (default: true)
	Gitleaks bool `koanf:"gitleaks"`

	// AllowList holds patterns whose matches are never redacted
	AllowList []string `koanf:"allow_list"`

	compiledAllowList []*regexp.Regexp
}

// DefaultConfig returns redaction with both rule sets enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Gitleaks:        true,
		AllowList:       []string{},
	}
}

// Validate fills defaults and compiles the allow list.
func (c *Config) Validate() error {
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}
	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list[%d]: invalid pattern %q: %w", i, pattern, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}

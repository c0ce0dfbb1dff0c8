package secrets

// DefaultRules returns the regex rules tuned for automation node output:
// credential-named JSON fields, authorization headers, and the token
// formats of the SaaS vendors workflows usually call. When a pattern has a
// capture group only the group is redacted, so field names stay readable.
func DefaultRules() []Rule {
	return []Rule{
		// Credential-named fields in JSON, form and header dumps
		{
			ID:          "credential-field",
			Description: "Credential-named field",
			Pattern:     `(?i)["']?(?:api[_-]?key|apikey|access[_-]?token|refresh[_-]?token|auth[_-]?token|client[_-]?secret|secret[_-]?key|password|passwd|pwd)["']?\s*[:=]\s*["']?([^\s"',}]{8,})`,
			Keywords:    []string{"key", "token", "secret", "pass", "pwd"},
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+([A-Za-z0-9_\-\.=]{20,})`,
			Keywords:    []string{"bearer"},
			Severity:    "high",
		},
		{
			ID:          "basic-auth-url",
			Description: "URL with embedded credentials",
			Pattern:     `(?i)(?:https?|postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:/\s"']+:([^@\s"']+)@`,
			Severity:    "high",
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity:    "medium",
		},
		{
			ID:          "private-key",
			Description: "Private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},

		// Vendor tokens with self-identifying prefixes
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "hubspot-private-app",
			Description: "HubSpot private app token",
			Pattern:     `pat-(?:na|eu)1-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`,
			Severity:    "high",
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    "high",
		},
		{
			ID:          "stripe-key",
			Description: "Stripe API key",
			Pattern:     `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Severity:    "high",
		},
		{
			ID:          "sendgrid-api-key",
			Description: "SendGrid API key",
			Pattern:     `SG\.[A-Za-z0-9_\-]{22,}\.[A-Za-z0-9_\-]{43,}`,
			Severity:    "high",
		},
		{
			ID:          "twilio-api-key",
			Description: "Twilio API key",
			Pattern:     `SK[0-9a-fA-F]{32}`,
			Keywords:    []string{"twilio"},
			Severity:    "high",
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
			Severity:    "high",
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{32,}`,
			Severity:    "high",
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9_\-]{40,}`,
			Severity:    "high",
		},
	}
}

// Package secrets redacts credentials from execution evidence before it is
// sent to an external LLM.
//
// Detection combines a small regex rule set aimed at automation payloads
// with the gitleaks default rules. Findings keep rule IDs and positions but
// never the secret itself.
package secrets

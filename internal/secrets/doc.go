// Package secrets redacts credentials from agent-supplied text before it is
// persisted.
//
// Evidence, execution evidence, grounding output and world-model entries are
// all free text written by an agent that may have pasted command output
// containing tokens or keys. Every such field passes through a Redactor
// before it reaches the session document.
//
// Detection runs a small set of built-in patterns first and then the gitleaks
// default rule set. Overlapping matches are merged and replaced with the
// configured redaction string. Findings report rule ids and positions only;
// the secret value is never retained.
package secrets

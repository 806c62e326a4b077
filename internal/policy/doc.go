// Package policy loads per-tenant governance policy for the gateway.
//
// A tenant file (YAML) declares, for every tenant:
//   - its class and free-form configuration
//   - credentials accepted by the authentication plugin
//   - a quota allowance and how requests are charged against it
//   - prohibited and in-scope patterns for the guardrail
//   - rewrite rules and disclaimers for the content filter
//   - PII redaction settings
//
// The loaded Catalog is immutable and safe for concurrent use. Patterns are
// compiled once at load time so plugins never compile on the request path.
package policy

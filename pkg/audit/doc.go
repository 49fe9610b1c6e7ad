// Package audit records security-relevant events of the access engine: rule
// changes, membership changes and denied enforcement checks.
//
// Events go to any Logger implementation. SlogLogger writes them as structured
// log lines, DBLogger stores them in access_audit_log, and MultiLogger fans
// out to several destinations.
package audit

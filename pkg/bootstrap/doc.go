// Package bootstrap wires the gatehouse components from a config.Config.
//
// New opens PostgreSQL and hands the connection to Build, which runs the
// migrations (when enabled), selects the decision cache backend, and connects
// the rule store, membership store, folder walker and access service. Both
// binaries start from here.
package bootstrap

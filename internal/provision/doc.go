// Package provision ensures the durable streams and consumers backing the
// transport exist with the correct configuration.
//
// Provisioning is idempotent: existing streams receive a configuration
// update, existing consumers are reused by durable name and never silently
// replaced. The Coordinator sequences a full provisioning run on startup and
// again after every reconnect, streams strictly before consumers, and fires
// a readiness callback when the most recent run completes.
package provision

// Package metric provides Prometheus metrics registration for the session core.
//
// A Registry owns a private prometheus.Registry plus the core session
// metrics. Components register their own collectors through the
// Registrar interface under a "component.metric" key; duplicate
// registration is rejected so wiring mistakes surface at startup rather
// than silently double-counting.
//
// Registries are instance-scoped by design: construct one per session
// core and pass it explicitly. This keeps tests able to run many
// independent instances in a single process.
package metric

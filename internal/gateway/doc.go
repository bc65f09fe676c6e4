// Package gateway wires the concord components into one HTTP server.
//
// # Endpoints
//
// Health (no auth):
//
//	GET  /health          liveness
//	GET  /health/ready    readiness: at least one live agent registered
//
// API (JWT auth when auth.jwt_secret is configured):
//
//	POST   /api/register             register a selector or personal agent
//	POST   /api/heartbeat            refresh a registration
//	GET    /api/agents               list registrations (?capability= filters)
//	DELETE /api/agents/{identity}    deregister
//	GET    /api/profiles/{identity}  read a preference profile
//	PUT    /api/profiles/{identity}  create or replace a profile (owner only)
//	DELETE /api/profiles/{identity}  deactivate a profile (owner only)
//	POST   /api/handle               handle one user message
//
// POST /api/handle deduplicates by message_id: a duplicate delivery within
// the dedupe window replays the original reply without re-running the
// collaboration pipeline.
package gateway

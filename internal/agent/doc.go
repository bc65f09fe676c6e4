// Package agent implements the personal agent: one user's conversational
// entry point into the recommendation system.
//
// An Agent classifies each inbound message, builds a collaboration request
// with the owner as first participant, and hands it to the pipeline. The
// three possible replies are a recommendation, a clarification (unknown
// collaborator names), or a failure with a human-readable reason. Outcome
// telemetry is emitted fire-and-forget and never delays the reply.
package agent

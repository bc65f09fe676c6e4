// ABOUTME: HTTP API handlers for registration, heartbeats, profiles, and message handling.
// ABOUTME: JSON request/response types and routing for the gateway's public surface.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/concord-agents/concord-gateway/internal/agent"
	"github.com/concord-agents/concord-gateway/internal/auth"
	"github.com/concord-agents/concord-gateway/internal/collab"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/registry"
	"github.com/concord-agents/concord-gateway/internal/selector"
)

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	Identity     string   `json:"identity"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

// HeartbeatRequest is the JSON request body for POST /api/heartbeat.
type HeartbeatRequest struct {
	Identity string `json:"identity"`
}

// AgentResponse is one entry in the GET /api/agents response.
type AgentResponse struct {
	Identity      string   `json:"identity"`
	Endpoint      string   `json:"endpoint"`
	Capabilities  []string `json:"capabilities"`
	LastHeartbeat string   `json:"last_heartbeat"`
	Healthy       bool     `json:"healthy"`
}

// HandleRequest is the JSON request body for POST /api/handle.
type HandleRequest struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Text      string `json:"text"`

	// Participants optionally names collaborators explicitly, bypassing
	// name extraction from the text.
	Participants []string `json:"participants,omitempty"`
}

// HandleResponse is the JSON response for POST /api/handle.
type HandleResponse struct {
	Kind           string              `json:"kind"` // "recommendation", "clarification", "failure"
	Text           string              `json:"text"`
	RequestID      string              `json:"request_id,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	Recommendation *selector.Candidate `json:"recommendation,omitempty"`
}

// handleRegister handles POST /api/register requests.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Identity == "" || req.Endpoint == "" {
		g.sendJSONError(w, http.StatusBadRequest, "identity and endpoint are required")
		return
	}

	err := g.registry.Register(profile.Identity(req.Identity), req.Endpoint, req.Capabilities)
	if errors.Is(err, registry.ErrAlreadyRegistered) {
		g.sendJSONError(w, http.StatusConflict, "agent already registered")
		return
	}
	if err != nil {
		g.logger.Error("registration failed", "identity", req.Identity, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// handleHeartbeat handles POST /api/heartbeat requests.
func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Identity == "" {
		g.sendJSONError(w, http.StatusBadRequest, "identity is required")
		return
	}

	if err := g.registry.Heartbeat(profile.Identity(req.Identity)); err != nil {
		g.sendJSONError(w, http.StatusNotFound, "agent not registered")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleAgents handles GET /api/agents requests.
// Supports optional ?capability=X to return only live agents with that capability.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var agents []*registry.Registration
	if capability := r.URL.Query().Get("capability"); capability != "" {
		agents = g.registry.Find(capability)
	} else {
		agents = g.registry.List()
	}

	expiry := g.registry.Expiry()
	now := time.Now()
	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		response = append(response, AgentResponse{
			Identity:      string(a.Identity),
			Endpoint:      a.Endpoint,
			Capabilities:  a.Capabilities,
			LastHeartbeat: a.LastHeartbeat.Format(time.RFC3339),
			Healthy:       a.Healthy(expiry, now),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAgentByID handles DELETE /api/agents/{identity} for deregistration.
func (g *Gateway) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	identity := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	if identity == "" {
		g.sendJSONError(w, http.StatusBadRequest, "identity is required")
		return
	}

	if err := g.registry.Deregister(profile.Identity(identity)); err != nil {
		g.sendJSONError(w, http.StatusNotFound, "agent not registered")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleProfile handles GET, PUT, and DELETE on /api/profiles/{identity}.
// When auth is enabled, writes are restricted to the profile's owner.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	if identity == "" || strings.Contains(identity, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid profile path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g.handleGetProfile(w, r, profile.Identity(identity))
	case http.MethodPut:
		g.handlePutProfile(w, r, profile.Identity(identity))
	case http.MethodDelete:
		g.handleDeleteProfile(w, r, profile.Identity(identity))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleGetProfile(w http.ResponseWriter, r *http.Request, id profile.Identity) {
	p, err := g.profiles.Get(r.Context(), id)
	if errors.Is(err, profile.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		g.logger.Error("profile lookup failed", "identity", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (g *Gateway) handlePutProfile(w http.ResponseWriter, r *http.Request, id profile.Identity) {
	if !g.callerOwns(r, id) {
		g.sendJSONError(w, http.StatusForbidden, "profiles are writable only by their owner")
		return
	}

	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.Identity = id

	if err := g.profiles.Put(r.Context(), &p); err != nil {
		if errors.Is(err, profile.ErrInvalidProfile) {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("profile write failed", "identity", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDeleteProfile(w http.ResponseWriter, r *http.Request, id profile.Identity) {
	if !g.callerOwns(r, id) {
		g.sendJSONError(w, http.StatusForbidden, "profiles are writable only by their owner")
		return
	}

	if err := g.profiles.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "profile not found")
			return
		}
		g.logger.Error("profile deactivation failed", "identity", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// callerOwns reports whether the authenticated caller may write this profile.
// With auth disabled every caller is trusted.
func (g *Gateway) callerOwns(r *http.Request, id profile.Identity) bool {
	if g.config.Auth.JWTSecret == "" {
		return true
	}
	return auth.IdentityFromContext(r.Context()) == string(id)
}

// handleMessage handles POST /api/handle: one inbound user message, one reply.
// Duplicate message IDs replay the remembered reply instead of re-running
// the pipeline.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req HandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.From == "" || req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, "from and text are required")
		return
	}

	if req.MessageID != "" {
		if reply, dup := g.dedupe.Lookup(req.MessageID); dup {
			g.logger.Debug("duplicate message replayed", "message_id", req.MessageID)
			g.writeReply(w, req.MessageID, reply)
			return
		}
	}

	var participants []profile.Identity
	for _, p := range req.Participants {
		participants = append(participants, profile.Identity(p))
	}

	a := agent.New(profile.Identity(req.From), g.classifier, g.middleware, g.sink, g.logger)
	reply := a.Handle(r.Context(), &agent.Message{
		ID:           req.MessageID,
		Text:         req.Text,
		Participants: participants,
	})

	if req.MessageID != "" {
		g.dedupe.Remember(req.MessageID, reply)
	}
	g.writeReply(w, req.MessageID, reply)
}

// writeReply renders an agent reply as the HandleResponse JSON shape.
func (g *Gateway) writeReply(w http.ResponseWriter, requestID string, reply *agent.Reply) {
	resp := HandleResponse{
		Text:      reply.Text,
		RequestID: requestID,
	}

	switch reply.Kind {
	case agent.ReplyRecommendation:
		resp.Kind = "recommendation"
	case agent.ReplyClarification:
		resp.Kind = "clarification"
	case agent.ReplyFailure:
		resp.Kind = "failure"
	}

	if reply.Outcome != nil {
		if reply.Outcome.RequestID != "" {
			resp.RequestID = reply.Outcome.RequestID
		}
		if reply.Outcome.State == collab.StateAborted {
			resp.Reason = string(reply.Outcome.Reason)
		}
		resp.Recommendation = reply.Outcome.Recommendation
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

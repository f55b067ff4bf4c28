package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fabianr-su/ApproachMDPproject/internal/config"
	"github.com/fabianr-su/ApproachMDPproject/internal/flightlog"
	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
	"github.com/fabianr-su/ApproachMDPproject/internal/policyfile"
	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
	"github.com/fabianr-su/ApproachMDPproject/internal/storage/sqlite"
	"github.com/fabianr-su/ApproachMDPproject/internal/websocket"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

const (
	maxBodyBytes   = 64 << 20 // policy uploads can be large
	maxBatchStarts = 1000
	maxDistance    = 1e6 // m
)

// rolloutKey identifies a cached rollout
type rolloutKey struct {
	policy string
	start  mdp.State
}

type cachedRollout struct {
	id         int64
	trajectory *rollout.Trajectory
}

// Handler contains the API handlers
type Handler struct {
	mdp            *mdp.ApproachMDP
	rollout        *rollout.Rollout
	policyStorage  *sqlite.PolicyStorage
	flightStorage  *sqlite.FlightStorage
	rolloutStorage *sqlite.RolloutStorage
	wsServer       *websocket.Server
	config         *config.Config
	logger         *logger.Logger

	rollouts *expirable.LRU[rolloutKey, cachedRollout]
	policies *expirable.LRU[string, rollout.MapPolicy]
}

// NewHandler creates a new API handler. wsServer may be nil, in which case
// nothing is broadcast.
func NewHandler(m *mdp.ApproachMDP, policyStorage *sqlite.PolicyStorage, flightStorage *sqlite.FlightStorage,
	rolloutStorage *sqlite.RolloutStorage, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	ttl := time.Duration(cfg.Rollout.CacheTTLMins) * time.Minute
	return &Handler{
		mdp:            m,
		rollout:        rollout.New(m, log),
		policyStorage:  policyStorage,
		flightStorage:  flightStorage,
		rolloutStorage: rolloutStorage,
		wsServer:       wsServer,
		config:         cfg,
		logger:         log.Named("api-handler"),
		rollouts:       expirable.NewLRU[rolloutKey, cachedRollout](cfg.Rollout.CacheSize, nil, ttl),
		policies:       expirable.NewLRU[string, rollout.MapPolicy](8, nil, ttl),
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) broadcast(messageType string, data map[string]any) {
	if h.wsServer != nil {
		h.wsServer.Broadcast(&websocket.Message{Type: messageType, Data: data})
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":   "ok",
		"aircraft": h.mdp.Aircraft().Name,
		"faf":      h.mdp.FAF(),
		"start":    h.mdp.StartState(),
	}
	if h.wsServer != nil {
		response["clients"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetAtmosphere returns temperature, pressure and density for every
// requested alt query parameter
func (h *Handler) GetAtmosphere(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()["alt"]
	if len(params) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one alt parameter is required"))
		return
	}

	alts := make([]float64, len(params))
	for i, p := range params {
		alt, err := strconv.ParseFloat(p, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid altitude %q", p))
			return
		}
		if alt < 0 || alt > physics.MaxAlt {
			writeError(w, http.StatusBadRequest, fmt.Errorf("altitude %g outside 0..%g m", alt, float64(physics.MaxAlt)))
			return
		}
		alts[i] = alt
	}

	atm := h.mdp.Atmosphere()
	WriteJSON(w, http.StatusOK, map[string]any{
		"isa_deviation": h.config.Atmosphere.ISADeviation,
		"altitude":      alts,
		"temperature":   physics.Map(alts, atm.Temperature),
		"pressure":      physics.Map(alts, atm.Pressure),
		"density":       physics.Map(alts, atm.Density),
	})
}

// PostActions returns the legal actions for the state in the body
func (h *Handler) PostActions(w http.ResponseWriter, r *http.Request) {
	var s mdp.State
	if err := decodeJSON(w, r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.checkState(s); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"state":    s,
		"terminal": h.mdp.IsTerminal(s),
		"actions":  h.mdp.Actions(s),
	})
}

type transitionRequest struct {
	State  mdp.State  `json:"state"`
	Action mdp.Action `json:"action"`
}

// PostTransitions returns the successor distribution of a state and action
func (h *Handler) PostTransitions(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.checkState(req.State); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcomes := h.mdp.SuccAndProbReward(req.State, req.Action)
	if outcomes == nil {
		outcomes = []mdp.Outcome{}
	}
	response := map[string]any{
		"state":    req.State,
		"action":   req.Action,
		"outcomes": outcomes,
	}
	if req.State.Distance > 0 {
		response["cost"] = h.mdp.Cost(req.State, req.Action)
	}
	WriteJSON(w, http.StatusOK, response)
}

// checkState rejects states the models are not defined for
func (h *Handler) checkState(s mdp.State) error {
	if s.Config < 0 || s.Config > h.mdp.Aircraft().MaxConfig() {
		return fmt.Errorf("%w: config %d outside 0..%d", mdp.ErrInvalidState, s.Config, h.mdp.Aircraft().MaxConfig())
	}
	if maxSpeed := 2 * slices.Max(h.mdp.Aircraft().MaxSpeed); !(s.Speed > 0 && s.Speed <= maxSpeed) {
		return fmt.Errorf("%w: speed %g outside 0..%g m/s", mdp.ErrInvalidState, s.Speed, maxSpeed)
	}
	if !(s.Altitude >= 0 && s.Altitude <= physics.MaxAlt) {
		return fmt.Errorf("%w: altitude %g outside 0..%g m", mdp.ErrInvalidState, s.Altitude, float64(physics.MaxAlt))
	}
	if s.Distance > maxDistance {
		return fmt.Errorf("%w: distance %g above %g m", mdp.ErrInvalidState, s.Distance, float64(maxDistance))
	}
	return nil
}

// loadPolicy returns the named policy, or the default one if name is empty
func (h *Handler) loadPolicy(name string) (string, rollout.MapPolicy, error) {
	if name == "" {
		name = h.config.Rollout.DefaultPolicy
	}
	if name == "" {
		return "", nil, errors.New("no policy named and no default policy configured")
	}
	if p, ok := h.policies.Get(name); ok {
		return name, p, nil
	}
	_, p, err := h.policyStorage.LoadPolicy(name)
	if err != nil {
		return name, nil, err
	}
	h.policies.Add(name, p)
	return name, p, nil
}

func policyErrorStatus(err error) int {
	switch {
	case errors.Is(err, sqlite.ErrPolicyNotFound), errors.Is(err, rollout.ErrNoNearbyPolicy):
		return http.StatusNotFound
	case errors.Is(err, rollout.ErrPolicyGap):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type rolloutRequest struct {
	Policy string    `json:"policy"`
	Start  mdp.State `json:"start"`
}

// PostRollout replays a stored policy from the requested start state
func (h *Handler) PostRollout(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.checkState(req.Start); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name, p, err := h.loadPolicy(req.Policy)
	if err != nil {
		status := policyErrorStatus(err)
		if req.Policy == "" && name == "" {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	key := rolloutKey{policy: name, start: req.Start}
	if c, ok := h.rollouts.Get(key); ok {
		WriteJSON(w, http.StatusOK, map[string]any{
			"id":         c.id,
			"policy":     name,
			"cached":     true,
			"trajectory": c.trajectory,
		})
		return
	}

	start := time.Now()
	traj, err := h.rollout.Run(p, req.Start)
	if err != nil {
		h.logger.Info("Rollout failed",
			logger.String("policy", name),
			logger.String("start", req.Start.String()),
			logger.Error(err))
		if traj != nil {
			WriteJSON(w, policyErrorStatus(err), map[string]any{
				"error":      err.Error(),
				"policy":     name,
				"trajectory": traj,
			})
			return
		}
		writeError(w, policyErrorStatus(err), err)
		return
	}

	id, err := h.rolloutStorage.StoreRollout(name, h.mdp.Aircraft().Name, traj)
	if err != nil {
		// the result is still useful without a history entry
		h.logger.Error("Failed to store rollout", logger.Error(err))
	}
	h.rollouts.Add(key, cachedRollout{id: id, trajectory: traj})

	h.logger.Debug("Rollout complete",
		logger.String("policy", name),
		logger.Int64("id", id),
		logger.Duration("duration", time.Since(start)))

	h.broadcast(websocket.MessageTypeRolloutCompleted, map[string]any{
		"id":           id,
		"policy":       name,
		"start":        traj.Start,
		"final":        traj.Final,
		"fuel_used_kg": traj.FuelUsed,
		"traces":       traj.Traces,
	})

	WriteJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"policy":     name,
		"cached":     false,
		"trajectory": traj,
	})
}

type batchRequest struct {
	Policy string      `json:"policy"`
	Starts []mdp.State `json:"starts"`
}

type batchResult struct {
	Start      mdp.State           `json:"start"`
	Trajectory *rollout.Trajectory `json:"trajectory,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// PostRolloutBatch evaluates a policy from many start states in parallel.
// Batch results are not stored in the history.
func (h *Handler) PostRolloutBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Starts) == 0 || len(req.Starts) > maxBatchStarts {
		writeError(w, http.StatusBadRequest, fmt.Errorf("between 1 and %d start states are required", maxBatchStarts))
		return
	}
	for i, s := range req.Starts {
		if err := h.checkState(s); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("start %d: %w", i, err))
			return
		}
	}

	name, p, err := h.loadPolicy(req.Policy)
	if err != nil {
		writeError(w, policyErrorStatus(err), err)
		return
	}

	results, err := h.rollout.Batch(r.Context(), p, req.Starts, h.config.Rollout.Workers)
	if err != nil {
		// only a cancelled request gets here
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	out := make([]batchResult, len(results))
	failed := 0
	for i, res := range results {
		out[i] = batchResult{Start: res.Start, Trajectory: res.Trajectory}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			failed++
		}
	}

	h.broadcast(websocket.MessageTypeBatchCompleted, map[string]any{
		"policy": name,
		"count":  len(results),
		"failed": failed,
	})

	WriteJSON(w, http.StatusOK, map[string]any{
		"policy":  name,
		"results": out,
	})
}

// GetRollouts returns the rollout history, newest first
func (h *Handler) GetRollouts(w http.ResponseWriter, r *http.Request) {
	limit := h.config.Rollout.HistoryLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}

	records, err := h.rolloutStorage.GetRollouts(limit, offset)
	if err != nil {
		h.logger.Error("Failed to get rollouts", logger.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*sqlite.RolloutRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"rollouts": records,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetRollout returns one rollout from the history with its trajectory
func (h *Handler) GetRollout(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rollout id"))
		return
	}
	rec, err := h.rolloutStorage.GetRollout(id)
	if errors.Is(err, sqlite.ErrRolloutNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// PutPolicy stores a policy uploaded as a msgpack+zstd policy file
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	hdr, p, err := policyfile.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if hdr.Aircraft != h.mdp.Aircraft().Name || hdr.FAF != h.mdp.FAF() {
		h.logger.Warn("Policy was computed for a different approach",
			logger.String("name", name),
			logger.String("aircraft", hdr.Aircraft),
			logger.Any("faf", hdr.FAF))
	}

	if err := h.policyStorage.SavePolicy(name, hdr.Aircraft, hdr.FAF, p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.invalidate(name)

	h.broadcast(websocket.MessageTypePolicyUpdated, map[string]any{
		"policy":  name,
		"entries": len(p),
	})
	WriteJSON(w, http.StatusCreated, map[string]any{
		"name":     name,
		"aircraft": hdr.Aircraft,
		"faf":      hdr.FAF,
		"entries":  len(p),
	})
}

// GetPolicy downloads a stored policy in the policy file format
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, p, err := h.policyStorage.LoadPolicy(name)
	if err != nil {
		writeError(w, policyErrorStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+policyfile.Extension))
	if err := policyfile.Encode(w, rec.Aircraft, rec.FAF, p); err != nil {
		h.logger.Error("Failed to write policy", logger.String("name", name), logger.Error(err))
	}
}

// GetPolicies lists the stored policies
func (h *Handler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := h.policyStorage.ListPolicies()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*sqlite.PolicyRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"policies": records})
}

// DeletePolicy removes a stored policy
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.policyStorage.DeletePolicy(name); err != nil {
		writeError(w, policyErrorStatus(err), err)
		return
	}
	h.invalidate(name)
	w.WriteHeader(http.StatusNoContent)
}

// invalidate drops everything cached for the named policy
func (h *Handler) invalidate(name string) {
	h.policies.Remove(name)
	for _, k := range h.rollouts.Keys() {
		if k.policy == name {
			h.rollouts.Remove(k)
		}
	}
}

// PutFlight stores a recorded flight for overlays
func (h *Handler) PutFlight(w http.ResponseWriter, r *http.Request) {
	var f flightlog.Flight
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f.ID = chi.URLParam(r, "id")
	if err := h.flightStorage.StoreFlight(&f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"id": f.ID, "samples": len(f.Samples)})
}

// GetFlights lists the stored flight ids
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	ids, err := h.flightStorage.ListFlightIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"flights": ids})
}

// GetFlightOverlay returns the vertical and velocity profiles of a flight.
// min_alt overrides the final altitude limit for the vertical profile.
func (h *Handler) GetFlightOverlay(w http.ResponseWriter, r *http.Request) {
	minAlt := float64(flightlog.DefaultMinAltitude)
	if v := r.URL.Query().Get("min_alt"); v != "" {
		var err error
		if minAlt, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_alt %q", v))
			return
		}
	}

	f, err := h.flightStorage.GetFlight(chi.URLParam(r, "id"))
	if errors.Is(err, sqlite.ErrFlightNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, f.Overlay(minAlt))
}

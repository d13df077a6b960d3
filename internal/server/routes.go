package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/nanobrain/internal/engine"
	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

// generateSession asks the search endpoint to mint a new session id.
const generateSession = "new"

type creditJSON struct {
	ID           string    `json:"id"`
	Score        float64   `json:"score"`
	AccessCount  int       `json:"access_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	DecayRate    float64   `json:"decay_rate"`
}

func toCreditJSON(c store.CreditRecord) creditJSON {
	return creditJSON{
		ID:           c.ID,
		Score:        c.Score,
		AccessCount:  c.AccessCount,
		CreatedAt:    time.UnixMilli(c.CreatedAt).UTC(),
		LastAccessed: time.UnixMilli(c.LastAccessed).UTC(),
		DecayRate:    c.DecayRate,
	}
}

// sessionParam returns the unescaped {sessionID} path segment. chi routes
// on the raw path when the id carries escaped characters.
func sessionParam(r *http.Request) string {
	raw := chi.URLParam(r, "sessionID")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	typ, err := memstore.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	mems, err := s.engine.Store.List(r.Context(), typ)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if mems == nil {
		mems = []memstore.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(mems),
		"memories": mems,
	})
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string     `json:"type"`
		Category string     `json:"category"`
		Name     string     `json:"name"`
		Content  string     `json:"content"`
		Tags     []string   `json:"tags"`
		Pinned   bool       `json:"pinned"`
		AsOf     *time.Time `json:"as_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	typ, err := memstore.ParseType(req.Type)
	if err != nil || typ == "" {
		writeError(w, http.StatusBadRequest, "type must be entity or episode")
		return
	}

	ctx := r.Context()
	var (
		ref           memstore.Ref
		contradiction *memstore.Contradiction
	)
	switch typ {
	case memstore.TypeEntity:
		existing, err := s.engine.Store.List(ctx, memstore.TypeEntity)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		var peers []memstore.Memory
		for _, m := range existing {
			if m.Category == req.Category && m.Name != req.Name {
				peers = append(peers, m)
			}
		}
		contradiction = memstore.DetectContradiction(req.Content, peers)
		ref, err = s.engine.Store.StoreEntity(ctx, req.Category, req.Name, req.Content, req.Tags, req.Pinned)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
	case memstore.TypeEpisode:
		var asOf time.Time
		if req.AsOf != nil {
			asOf = *req.AsOf
		}
		ref, err = s.engine.Store.StoreEpisode(ctx, req.Name, req.Content, req.Tags, req.Pinned, asOf)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
	}

	rec, err := s.engine.Tracker.EnsureRecord(ctx, ref.ID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	resp := map[string]any{
		"id":    ref.ID,
		"path":  ref.Path,
		"score": rec.Score,
	}
	if contradiction != nil {
		resp["contradiction"] = contradiction
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.engine.Store.Retrieve(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	resp := map[string]any{"memory": m}
	rec, err := s.engine.DB.GetCredit(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if rec != nil {
		resp["credit"] = toCreditJSON(*rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := s.engine.Store.Update(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": m})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	archived, err := s.engine.Store.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archived)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	typ, err := memstore.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	limit := queryInt(r, "limit", 10)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == generateSession {
		sessionID = s.newSessionID()
	}

	var results []engine.WeightedResult
	if sessionID != "" {
		results, err = s.engine.Ranker.SearchAndRecord(r.Context(), sessionID, query, limit, typ)
	} else {
		results, err = s.engine.Ranker.Search(r.Context(), query, limit, typ)
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if results == nil {
		results = []engine.WeightedResult{}
	}

	resp := map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	}
	if sessionID != "" {
		resp["session_id"] = sessionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordRetrieval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sessionID := sessionParam(r)
	if err := s.engine.Tracker.RecordRetrieval(r.Context(), sessionID, req.IDs); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sessionID,
		"recorded":   len(req.IDs),
	})
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signal string `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sig, err := engine.ParseSignal(req.Signal)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	result, err := s.engine.Tracker.ApplyOutcome(r.Context(), sessionParam(r), sig)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePendingTurn(w http.ResponseWriter, r *http.Request) {
	turn, err := s.engine.Tracker.PendingTurn(r.Context(), sessionParam(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if turn == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": map[string]any{
			"turn_id":    turn.ID,
			"memory_ids": turn.RetrievedMemoryIDs,
			"created_at": time.UnixMilli(turn.CreatedAt).UTC(),
		},
	})
}

// handleOpenTurn records the memories currently in the summary as the
// session's pending turn unless one is already pending.
func (s *Server) handleOpenTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	_, ids, err := s.engine.SessionContext(r.Context(), sessionID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"opened":     len(ids) > 0,
		"memory_ids": ids,
	})
}

// handleSessionHistory returns every turn of a session with the credit
// events its outcomes raised.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	turns, err := s.engine.DB.TurnsForSession(r.Context(), sessionID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	events, err := s.engine.DB.EventsForSession(r.Context(), sessionID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	type turnJSON struct {
		ID        int64     `json:"turn_id"`
		MemoryIDs []string  `json:"memory_ids"`
		Outcome   string    `json:"outcome,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]turnJSON, len(turns))
	for i, t := range turns {
		out[i] = turnJSON{
			ID:        t.ID,
			MemoryIDs: t.RetrievedMemoryIDs,
			Outcome:   t.Outcome,
			CreatedAt: time.UnixMilli(t.CreatedAt).UTC(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      out,
		"events":     toEventsJSON(events),
	})
}

func (s *Server) handleTopCredits(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.Tracker.TopScored(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]creditJSON, len(recs))
	for i, c := range recs {
		out[i] = toCreditJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"credits": out,
	})
}

func (s *Server) handleGetCredit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.DB.GetCredit(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no credit record for "+id)
		return
	}
	events, err := s.engine.Tracker.Events(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credit": toCreditJSON(*rec),
		"events": toEventsJSON(events),
	})
}

type eventJSON struct {
	MemoryID  string    `json:"memory_id"`
	Type      string    `json:"type"`
	Reward    float64   `json:"reward"`
	OldScore  float64   `json:"old_score"`
	NewScore  float64   `json:"new_score"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toEventsJSON(events []store.CreditEvent) []eventJSON {
	out := make([]eventJSON, len(events))
	for i, e := range events {
		out[i] = eventJSON{
			MemoryID:  e.MemoryID,
			Type:      e.EventType,
			Reward:    e.Reward,
			OldScore:  e.OldScore,
			NewScore:  e.NewScore,
			SessionID: e.SessionID,
			CreatedAt: time.UnixMilli(e.CreatedAt).UTC(),
		}
	}
	return out
}

func (s *Server) handleLifecyclePass(w http.ResponseWriter, r *http.Request) {
	var (
		report engine.Report
		err    error
	)
	ctx := r.Context()
	switch pass := chi.URLParam(r, "pass"); pass {
	case "compact":
		report, err = s.engine.Compact(ctx)
	case "consolidate":
		report, err = s.engine.Consolidate(ctx)
	case "promote":
		report, err = s.engine.Promote(ctx)
	case "prune":
		report, err = s.engine.Prune(ctx)
	default:
		writeError(w, http.StatusNotFound, "unknown lifecycle pass "+pass)
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if report.Details == nil {
		report.Details = []string{}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days float64 `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	n, err := s.engine.Decay(r.Context(), req.Days)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":    req.Days,
		"updated": n,
	})
}

func (s *Server) handleLifecycleLog(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "", store.ActionDecay, store.ActionPromote, store.ActionConsolidate, store.ActionPrune:
	default:
		writeError(w, http.StatusBadRequest, "unknown action "+action)
		return
	}
	entries, err := s.engine.DB.LifecycleEntries(r.Context(), action)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	type entryJSON struct {
		Action    string    `json:"action"`
		TargetIDs []string  `json:"target_ids"`
		Details   string    `json:"details"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = entryJSON{
			Action:    e.Action,
			TargetIDs: e.TargetIDs,
			Details:   e.Details,
			CreatedAt: time.UnixMilli(e.CreatedAt).UTC(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"entries": out,
	})
}

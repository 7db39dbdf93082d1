package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// reconcileTimeout bounds a reconciliation pass requested over HTTP.
const reconcileTimeout = 30 * time.Second

// DisplayResponse describes one configured display and its last known
// feature values.
type DisplayResponse struct {
	Index        int                           `json:"index"`
	Name         string                        `json:"name"`
	Manufacturer string                        `json:"manufacturer"`
	Model        string                        `json:"model"`
	Serial       string                        `json:"serial,omitempty"`
	Status       registry.Status               `json:"status"`
	Description  string                        `json:"description,omitempty"`
	Features     []vcp.Feature                 `json:"features"`
	State        map[string]engine.FeatureView `json:"state,omitempty"`
}

// SetFeatureRequest is the body of PUT /displays/{index}/{feature}.
type SetFeatureRequest struct {
	Value string `json:"value"`
}

// CommandResponse reports how a command ended.
type CommandResponse struct {
	ID         string  `json:"id"`
	Identifier string  `json:"identifier"`
	Value      string  `json:"value"`
	Stage      string  `json:"stage"`
	Raw        *uint16 `json:"raw,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

func (s *Server) displayResponse(r *http.Request, info registry.Info) DisplayResponse {
	resp := DisplayResponse{
		Index:        info.Index,
		Name:         info.Name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Serial:       info.Serial,
		Status:       info.Status,
		Description:  info.Description,
		Features:     info.Features,
	}
	state, err := s.engine.State(r.Context(), info.Index)
	if err != nil {
		s.logger.Warn("failed to read display state", "display", info.Index, "error", err)
		return resp
	}
	resp.State = state
	return resp
}

// handleListDisplays returns every configured display ordered by index.
func (s *Server) handleListDisplays(w http.ResponseWriter, r *http.Request) {
	infos := s.displays.Snapshot()
	out := make([]DisplayResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, s.displayResponse(r, info))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"displays": out,
		"count":    len(out),
	})
}

// handleGetDisplay returns one display.
func (s *Server) handleGetDisplay(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeBadRequest(w, fmt.Sprintf("invalid display index %q", raw))
		return
	}

	info, ok := s.displays.Get(index)
	if !ok {
		writeNotFound(w, fmt.Sprintf("display %d not found", index))
		return
	}
	writeJSON(w, http.StatusOK, s.displayResponse(r, info))
}

// handleSetFeature applies a symbolic value through the command router,
// exactly as an MQTT command would be.
//
// The body is either {"value": "HDMI"} or the bare value as text/plain.
func (s *Server) handleSetFeature(w http.ResponseWriter, r *http.Request) {
	value, err := readValue(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	identifier := chi.URLParam(r, "index") + ":" + chi.URLParam(r, "feature")
	out := s.router.Handle(r.Context(), "api", identifier, []byte(value))

	status, code := outcomeStatus(out)
	resp := commandResponse(out)
	if code != "" {
		writeError(w, status, code, resp.Error)
		return
	}
	writeJSON(w, status, resp)
}

func readValue(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("reading request body: %w", err)
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		return string(body), nil
	}

	var req SetFeatureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("invalid JSON body: %w", err)
	}
	return req.Value, nil
}

func commandResponse(o engine.Outcome) CommandResponse {
	resp := CommandResponse{
		ID:         o.ID,
		Identifier: o.Identifier,
		Value:      o.Command.Value,
		Stage:      string(o.Stage),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.OK() {
		raw := o.Raw
		resp.Raw = &raw
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}

// outcomeStatus maps a command outcome to an HTTP status. A non-empty code
// means the response is an error document.
func outcomeStatus(o engine.Outcome) (int, string) {
	switch o.Stage {
	case engine.StagePublished, engine.StageApplied:
		return http.StatusOK, ""
	case engine.StageIgnored:
		return http.StatusAccepted, ""
	case engine.StageRejected:
		switch {
		case errors.Is(o.Err, engine.ErrUnknownDevice), errors.Is(o.Err, engine.ErrUnknownFeature):
			return http.StatusNotFound, ErrCodeNotFound
		case errors.Is(o.Err, engine.ErrInvalidSymbol):
			return http.StatusUnprocessableEntity, ErrCodeValidation
		default:
			return http.StatusBadRequest, ErrCodeBadRequest
		}
	default:
		if errors.Is(o.Err, engine.ErrDeviceUnavailable) {
			return http.StatusServiceUnavailable, ErrCodeUnavailable
		}
		return http.StatusBadGateway, ErrCodeHardware
	}
}

// handleReconcile runs one reconciliation pass immediately. The pass is
// detached from the request so a client hanging up does not abort it
// halfway; reconcileTimeout bounds it instead.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), reconcileTimeout)
	defer cancel()

	res, err := s.engine.Tick(ctx)
	if errors.Is(err, engine.ErrTickInProgress) {
		writeError(w, http.StatusConflict, ErrCodeConflict, "reconciliation already in progress")
		return
	}
	if err != nil {
		writeUnavailable(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"started":      res.Started,
		"duration_ms":  res.Duration.Milliseconds(),
		"devices":      res.Devices,
		"reads":        res.Reads,
		"reads_failed": res.ReadsFailed,
		"published":    res.Published,
		"degraded":     res.Degraded,
		"unavailable":  res.Unavailable,
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/pipeline"
)

type CameraHandler struct {
	Configs  data.CameraConfigModel
	Resolver *cameraconf.Resolver
	Latest   pipeline.LatestStore
}

func NewCameraHandler(configs data.CameraConfigModel, resolver *cameraconf.Resolver, latest pipeline.LatestStore) *CameraHandler {
	return &CameraHandler{Configs: configs, Resolver: resolver, Latest: latest}
}

// GET /api/v1/cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Configs.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "camera lookup failed")
		return
	}
	if list == nil {
		list = []*data.CameraConfig{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/v1/cameras/{camera_id}
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraID(w, r)
	if !ok {
		return
	}

	cfg, err := h.Configs.Get(r.Context(), cameraID)
	if errors.Is(err, data.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "camera not configured")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "camera lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// PUT /api/v1/cameras/{camera_id}
// Upserts the per-camera overrides and drops the resolver's cached
// copy so the next event sees the change.
func (h *CameraHandler) Put(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraID(w, r)
	if !ok {
		return
	}

	var req struct {
		DisplayName   string   `json:"display_name"`
		Enabled       *bool    `json:"enabled"`
		AnalysisMode  string   `json:"analysis_mode"`
		FrameCount    int      `json:"frame_count"`
		ProviderOrder []string `json:"provider_order"`
		SnapshotURL   string   `json:"snapshot_url"`
		ClipURL       string   `json:"clip_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.AnalysisMode != "" {
		if _, err := evidence.ParseMode(req.AnalysisMode); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.FrameCount < 0 {
		respondError(w, http.StatusBadRequest, "frame_count must be >= 0")
		return
	}

	cfg := &data.CameraConfig{
		CameraID:      cameraID,
		DisplayName:   req.DisplayName,
		Enabled:       true,
		AnalysisMode:  req.AnalysisMode,
		FrameCount:    req.FrameCount,
		ProviderOrder: req.ProviderOrder,
		SnapshotURL:   req.SnapshotURL,
		ClipURL:       req.ClipURL,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := h.Configs.Upsert(r.Context(), cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "camera save failed")
		return
	}

	if h.Resolver != nil {
		h.Resolver.Invalidate(cameraID)
	}
	respondJSON(w, http.StatusOK, cfg)
}

// DELETE /api/v1/cameras/{camera_id}
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraID(w, r)
	if !ok {
		return
	}

	if err := h.Configs.Delete(r.Context(), cameraID); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "camera not configured")
			return
		}
		respondError(w, http.StatusInternalServerError, "camera delete failed")
		return
	}

	if h.Resolver != nil {
		h.Resolver.Invalidate(cameraID)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /api/v1/cameras/{camera_id}/latest
// Serves the cached most recent analysis for dashboard polling.
func (h *CameraHandler) LatestResult(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraID(w, r)
	if !ok {
		return
	}

	res, err := h.Latest.GetLatest(r.Context(), cameraID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "latest lookup failed")
		return
	}
	if res == nil {
		respondError(w, http.StatusNotFound, "no recent analysis for camera")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func cameraID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "camera_id")
	if !cameraIDRegex.MatchString(id) {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return "", false
	}
	return id, true
}

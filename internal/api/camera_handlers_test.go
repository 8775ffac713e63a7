package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/evidence"
)

func cameraColumns() []string {
	return []string{"camera_id", "display_name", "enabled", "analysis_mode", "frame_count",
		"provider_order", "snapshot_url", "clip_url", "updated_at"}
}

func TestPutCamera_UpsertsAndDropsResolverCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	h.cameraDB.ExpectQuery("FROM camera_configs").
		WithArgs("front_door").
		WillReturnRows(sqlmock.NewRows(cameraColumns()).
			AddRow("front_door", "Front Door", true, "single_frame", 1, "{openai}", "", "", now))
	before := h.resolver.Resolve(ctx, "front_door")
	require.Equal(t, "Front Door", before.DisplayName)

	h.cameraDB.ExpectQuery("INSERT INTO camera_configs").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	body := `{"display_name":"Front Door Cam","analysis_mode":"multi_frame","frame_count":4,"provider_order":["gemini"]}`
	rec := h.asAdmin(t, http.MethodPut, "/api/v1/cameras/front_door", body)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody(t, rec)
	assert.Equal(t, "Front Door Cam", resp["display_name"])
	assert.Equal(t, true, resp["enabled"])

	// The cached copy is gone: the next resolve hits the DB again and
	// sees the new row.
	h.cameraDB.ExpectQuery("FROM camera_configs").
		WithArgs("front_door").
		WillReturnRows(sqlmock.NewRows(cameraColumns()).
			AddRow("front_door", "Front Door Cam", true, "multi_frame", 4, "{gemini}", "", "", now))
	after := h.resolver.Resolve(ctx, "front_door")
	assert.Equal(t, "Front Door Cam", after.DisplayName)
	assert.Equal(t, evidence.ModeMultiFrame, after.Mode)
	require.NoError(t, h.cameraDB.ExpectationsWereMet())
}

func TestPutCamera_RejectsBadSettings(t *testing.T) {
	h := newHarness(t)

	rec := h.asAdmin(t, http.MethodPut, "/api/v1/cameras/front_door", `{"analysis_mode":"thermal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.asAdmin(t, http.MethodPut, "/api/v1/cameras/front_door", `{"frame_count":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "frame_count")

	require.NoError(t, h.cameraDB.ExpectationsWereMet())
}

func TestGetCamera_NotConfigured(t *testing.T) {
	h := newHarness(t)
	h.cameraDB.ExpectQuery("FROM camera_configs").
		WithArgs("garage").
		WillReturnError(sql.ErrNoRows)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/cameras/garage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "camera not configured")
}

func TestListCameras(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.cameraDB.ExpectQuery("FROM camera_configs").
		WillReturnRows(sqlmock.NewRows(cameraColumns()).
			AddRow("front_door", "Front Door", true, "multi_frame", 4, "{openai}", "http://nvr/front.jpg", "", now))

	rec := h.asViewer(t, http.MethodGet, "/api/v1/cameras", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "front_door", list[0]["camera_id"])
}

func TestDeleteCamera_NotFound(t *testing.T) {
	h := newHarness(t)
	h.cameraDB.ExpectExec("DELETE FROM camera_configs").
		WithArgs("garage").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := h.asAdmin(t, http.MethodDelete, "/api/v1/cameras/garage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestResult_ServesCachedAnalysis(t *testing.T) {
	h := newHarness(t)

	res := &analysis.Result{
		EventID:             uuid.New(),
		CameraID:            "front_door",
		Description:         "person walking toward the gate",
		Confidence:          0.91,
		ProviderUsed:        "openai",
		ModeUsed:            evidence.ModeMultiFrame,
		DetectedObjectTypes: []string{"person"},
	}
	require.NoError(t, h.latest.SetLatest(context.Background(), res))

	rec := h.asViewer(t, http.MethodGet, "/api/v1/cameras/front_door/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "person walking toward the gate", body["description"])
	assert.Equal(t, res.EventID.String(), body["event_id"])
}

func TestLatestResult_NothingCachedIs404(t *testing.T) {
	h := newHarness(t)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/cameras/garage/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no recent analysis")
}

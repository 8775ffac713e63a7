package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cameraConfigColumns() []string {
	return []string{"camera_id", "display_name", "enabled", "analysis_mode", "frame_count", "provider_order", "snapshot_url", "clip_url", "updated_at"}
}

func TestCameraConfigModel_Get(t *testing.T) {
	db, mock := newMockDB(t)
	m := CameraConfigModel{DB: db}

	now := time.Now()
	rows := sqlmock.NewRows(cameraConfigColumns()).
		AddRow("front_door", "Front Door", true, "multi_frame", 3, "{ollama,openai}", "http://cam/snap.jpg", "", now)
	mock.ExpectQuery("SELECT (.+) FROM camera_configs").
		WithArgs("front_door").
		WillReturnRows(rows)

	c, err := m.Get(context.Background(), "front_door")
	require.NoError(t, err)
	assert.Equal(t, "front_door", c.CameraID)
	assert.Equal(t, []string{"ollama", "openai"}, c.ProviderOrder)
	assert.Equal(t, 3, c.FrameCount)
}

func TestCameraConfigModel_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	m := CameraConfigModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM camera_configs").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(cameraConfigColumns()))

	_, err := m.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCameraConfigModel_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	m := CameraConfigModel{DB: db}

	now := time.Now()
	mock.ExpectQuery("INSERT INTO camera_configs").
		WithArgs("garage", "Garage", true, "single_frame", 1, pq.Array([]string{"ollama"}), "", "http://cam/clip.mp4").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	c := &CameraConfig{
		CameraID:      "garage",
		DisplayName:   "Garage",
		Enabled:       true,
		AnalysisMode:  "single_frame",
		FrameCount:    1,
		ProviderOrder: []string{"ollama"},
		ClipURL:       "http://cam/clip.mp4",
	}
	require.NoError(t, m.Upsert(context.Background(), c))
	assert.WithinDuration(t, now, c.UpdatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCameraConfigModel_List(t *testing.T) {
	db, mock := newMockDB(t)
	m := CameraConfigModel{DB: db}

	now := time.Now()
	rows := sqlmock.NewRows(cameraConfigColumns()).
		AddRow("back_yard", "Back Yard", false, "", 0, "{}", "", "", now).
		AddRow("front_door", "Front Door", true, "video_native", 0, "{gemini}", "", "", now)
	mock.ExpectQuery("SELECT (.+) FROM camera_configs").WillReturnRows(rows)

	out, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, out[0].Enabled)
	assert.Empty(t, out[0].ProviderOrder)
	assert.Equal(t, []string{"gemini"}, out[1].ProviderOrder)
}

func TestCameraConfigModel_Delete_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	m := CameraConfigModel{DB: db}

	mock.ExpectExec("DELETE FROM camera_configs").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, m.Delete(context.Background(), "ghost"), ErrRecordNotFound)
}

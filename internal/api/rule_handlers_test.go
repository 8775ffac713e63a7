package api_test

import (
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleColumns() []string {
	return []string{"id", "name", "enabled", "conditions", "actions", "cooldown_seconds",
		"last_triggered_at", "trigger_count", "created_at", "updated_at"}
}

func TestCreateRule_PersistsAndRefreshesEngine(t *testing.T) {
	h := newHarness(t)

	id := uuid.New()
	now := time.Now().UTC()
	h.ruleDB.ExpectQuery("INSERT INTO alert_rules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "trigger_count", "created_at", "updated_at"}).
			AddRow(id.String(), 0, now, now))
	h.ruleDB.ExpectQuery("WHERE enabled = true").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))

	body := `{
		"name": "person at night",
		"conditions": {"object_types": ["person"], "time_of_day": {"start": "22:00", "end": "06:00"}},
		"actions": [{"channel": "broadcast"}],
		"cooldown_seconds": 300
	}`
	rec := h.asAdmin(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody(t, rec)
	assert.Equal(t, id.String(), resp["id"])
	assert.Equal(t, "person at night", resp["name"])
	assert.Equal(t, true, resp["enabled"])
	require.NoError(t, h.ruleDB.ExpectationsWereMet())
}

// A rule the engine would refuse to load is rejected at the door, not
// stored and silently skipped later.
func TestCreateRule_RejectsInvalidPayloads(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing name", `{"actions":[{"channel":"broadcast"}]}`, "name is required"},
		{"bad clock", `{"name":"x","conditions":{"time_of_day":{"start":"25:99","end":"06:00"}}}`, "bad clock"},
		{"unknown channel", `{"name":"x","actions":[{"channel":"pager"}]}`, "unknown action channel"},
		{"webhook without url", `{"name":"x","actions":[{"channel":"webhook"}]}`, "webhook action missing url"},
		{"negative cooldown", `{"name":"x","cooldown_seconds":-5}`, "cooldown_seconds must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.asAdmin(t, http.MethodPost, "/api/v1/rules", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
	require.NoError(t, h.ruleDB.ExpectationsWereMet())
}

func TestGetRule_ServesStoredJSONVerbatim(t *testing.T) {
	h := newHarness(t)

	id := uuid.New()
	now := time.Now().UTC()
	rows := sqlmock.NewRows(ruleColumns()).
		AddRow(id.String(), "person at night", true,
			[]byte(`{"object_types":["person"]}`), []byte(`[{"channel":"broadcast"}]`),
			300, nil, 7, now, now)
	h.ruleDB.ExpectQuery("FROM alert_rules").WithArgs(id).WillReturnRows(rows)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/rules/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	conditions, ok := body["conditions"].(map[string]any)
	require.True(t, ok, "conditions should be a JSON object, not an encoded string")
	assert.Equal(t, []any{"person"}, conditions["object_types"])
	assert.Equal(t, float64(7), body["trigger_count"])
}

func TestGetRule_NotFound(t *testing.T) {
	h := newHarness(t)

	id := uuid.New()
	h.ruleDB.ExpectQuery("FROM alert_rules").WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/rules/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "rule not found")
}

func TestUpdateRule_NotFoundSkipsRefresh(t *testing.T) {
	h := newHarness(t)

	id := uuid.New()
	h.ruleDB.ExpectExec("UPDATE alert_rules").
		WillReturnResult(sqlmock.NewResult(0, 0))

	body := `{"name":"renamed","actions":[{"channel":"broadcast"}]}`
	rec := h.asAdmin(t, http.MethodPut, "/api/v1/rules/"+id.String(), body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, h.ruleDB.ExpectationsWereMet())
}

func TestDeleteRule_RemovesAndRefreshes(t *testing.T) {
	h := newHarness(t)

	id := uuid.New()
	h.ruleDB.ExpectExec("DELETE FROM alert_rules").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.ruleDB.ExpectQuery("WHERE enabled = true").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))

	rec := h.asAdmin(t, http.MethodDelete, "/api/v1/rules/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deleted")
	require.NoError(t, h.ruleDB.ExpectationsWereMet())
}

func TestRuleEndpoints_RejectBadID(t *testing.T) {
	h := newHarness(t)

	rec := h.asViewer(t, http.MethodGet, "/api/v1/rules/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid rule id")
}

func TestListRules_EmptyIsArrayNotNull(t *testing.T) {
	h := newHarness(t)
	h.ruleDB.ExpectQuery("FROM alert_rules").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))

	rec := h.asViewer(t, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

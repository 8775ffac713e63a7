package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func ruleColumns() []string {
	return []string{"id", "name", "enabled", "conditions", "actions", "cooldown_seconds", "last_triggered_at", "trigger_count", "created_at", "updated_at"}
}

func TestAlertRuleModel_Create(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("INSERT INTO alert_rules").
		WithArgs("person at night", true, []byte(`{"object_types":["person"]}`), []byte(`[]`), 300).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trigger_count", "created_at", "updated_at"}).
			AddRow(id.String(), int64(0), now, now))

	rec := &AlertRuleRecord{
		Name:            "person at night",
		Enabled:         true,
		ConditionsJSON:  []byte(`{"object_types":["person"]}`),
		ActionsJSON:     []byte(`[]`),
		CooldownSeconds: 300,
	}
	require.NoError(t, m.Create(context.Background(), rec))
	assert.Equal(t, id, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRuleModel_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM alert_rules").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := m.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAlertRuleModel_ListEnabled(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	now := time.Now()
	triggered := now.Add(-time.Hour)
	rows := sqlmock.NewRows(ruleColumns()).
		AddRow(uuid.New().String(), "rule-a", true, []byte(`{}`), []byte(`[]`), 60, triggered, int64(4), now, now).
		AddRow(uuid.New().String(), "rule-b", true, []byte(`{}`), []byte(`[]`), 0, nil, int64(0), now, now)
	mock.ExpectQuery("SELECT (.+) FROM alert_rules\\s+WHERE enabled").WillReturnRows(rows)

	out, err := m.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].LastTriggeredAt)
	assert.WithinDuration(t, triggered, *out[0].LastTriggeredAt, time.Second)
	assert.Nil(t, out[1].LastTriggeredAt)
	assert.Equal(t, time.Minute, out[0].Cooldown())
}

func TestAlertRuleModel_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	mock.ExpectExec("UPDATE alert_rules").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &AlertRuleRecord{ID: uuid.New(), Name: "gone", ConditionsJSON: []byte(`{}`), ActionsJSON: []byte(`[]`)}
	assert.ErrorIs(t, m.Update(context.Background(), rec), ErrRecordNotFound)
}

func TestAlertRuleModel_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	keep := uuid.New()
	gone := uuid.New()
	mock.ExpectExec("DELETE FROM alert_rules").WithArgs(keep).WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, m.Delete(context.Background(), keep))

	mock.ExpectExec("DELETE FROM alert_rules").WithArgs(gone).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, m.Delete(context.Background(), gone), ErrRecordNotFound)
}

func TestAlertRuleModel_MarkTriggered(t *testing.T) {
	db, mock := newMockDB(t)
	m := AlertRuleModel{DB: db}

	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectExec("UPDATE alert_rules\\s+SET last_triggered_at").
		WithArgs(at, int64(9), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, m.MarkTriggered(context.Background(), id, at, 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

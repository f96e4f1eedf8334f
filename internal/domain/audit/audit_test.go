package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/requestctx"
)

func TestRecordInsertsEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("100", 2, ActionWizardSubmit, "evaluation", "7:100:200", "req-1", "10.0.0.1", []byte(`{"answers":3}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := New(mock)
	err = svc.Record(context.Background(), Event{
		ActorID:      "100",
		ActorProfile: 2,
		Action:       ActionWizardSubmit,
		EntityType:   "evaluation",
		EntityID:     "7:100:200",
		RequestID:    "req-1",
		IP:           "10.0.0.1",
	}, map[string]int{"answers": 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "actor_id", "actor_profile", "action", "entity_type", "entity_id", "request_id", "ip", "details_json", "created_at"}).
		AddRow(int64(1), "100", 3, ActionTableExport, "table", "usuarios", "r", "", []byte(nil), now)
	mock.ExpectQuery(`SELECT id, actor_id .* FROM audit_events WHERE 1=1 AND action = \$1 AND actor_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(ActionTableExport, "100", 20, 0).
		WillReturnRows(rows)

	events, err := New(mock).List(context.Background(), Filter{Action: ActionTableExport, ActorID: "100"}, 20, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "usuarios", events[0].EntityID)
	assert.Equal(t, now, events[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM audit_events WHERE 1=1 AND entity_type = \$1`).
		WithArgs("followup").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	total, err := New(mock).Count(context.Background(), Filter{EntityType: "followup"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

type captureJobs struct {
	types []string
	runs  []func(context.Context) error
}

func (c *captureJobs) Enqueue(jobType string, run func(context.Context) error) {
	c.types = append(c.types, jobType)
	c.runs = append(c.runs, run)
}

func TestLoggerEnqueuesWithRequestContext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("1", 1, ActionLogin, "session", "1", "req-9", "192.0.2.1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	jobs := &captureJobs{}
	logger := NewLogger(New(mock), jobs)
	ctx := requestctx.WithClientIP(requestctx.WithRequestID(context.Background(), "req-9"), "192.0.2.1")
	logger.Log(ctx, Event{ActorID: "1", ActorProfile: 1, Action: ActionLogin, EntityType: "session", EntityID: "1"}, nil)

	require.Equal(t, []string{"audit:" + ActionLogin}, jobs.types)
	require.NoError(t, jobs.runs[0](context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoggerWithoutStoreOnlyLogs(t *testing.T) {
	jobs := &captureJobs{}
	NewLogger(nil, jobs).Log(context.Background(), Event{Action: ActionLogout}, nil)
	assert.Empty(t, jobs.types)

	var nilLogger *Logger
	nilLogger.Log(context.Background(), Event{Action: ActionLogout}, errors.New("ignored"))
}

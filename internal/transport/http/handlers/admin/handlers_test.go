package adminhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/domain/admin"
	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/upstream"
)

type fakeAPI struct {
	mu         sync.Mutex
	users      []upstream.User
	companies  []upstream.Company
	assigned   int
	failAssign string
}

func (f *fakeAPI) Users(context.Context, upstream.Credential, url.Values) ([]upstream.User, error) {
	return f.users, nil
}

func (f *fakeAPI) CreateUser(_ context.Context, _ upstream.Credential, u upstream.User) error {
	f.users = append(f.users, u)
	return nil
}

func (f *fakeAPI) UpdateUser(_ context.Context, _ upstream.Credential, u upstream.User) error {
	for i := range f.users {
		if f.users[i].Document == u.Document {
			f.users[i] = u
		}
	}
	return nil
}

func (f *fakeAPI) Companies(context.Context, upstream.Credential) ([]upstream.Company, error) {
	return f.companies, nil
}

func (f *fakeAPI) SaveCompany(_ context.Context, _ upstream.Credential, c upstream.Company) error {
	if c.ID == 0 {
		c.ID = int64(len(f.companies) + 1)
		f.companies = append(f.companies, c)
	}
	return nil
}

func (f *fakeAPI) DeleteCompany(context.Context, upstream.Credential, int64) error {
	return &upstream.HTTPError{Status: http.StatusBadRequest, Message: "la empresa tiene sedes"}
}

func (f *fakeAPI) Sites(context.Context, upstream.Credential) ([]upstream.Site, error) {
	return nil, nil
}

func (f *fakeAPI) SaveSite(context.Context, upstream.Credential, upstream.Site) error { return nil }

func (f *fakeAPI) DeleteSite(context.Context, upstream.Credential, int64) error { return nil }

func (f *fakeAPI) Evaluations(context.Context, upstream.Credential) ([]upstream.Evaluation, error) {
	return nil, nil
}

func (f *fakeAPI) SaveEvaluation(context.Context, upstream.Credential, upstream.Evaluation) error {
	return nil
}

func (f *fakeAPI) DeleteEvaluation(context.Context, upstream.Credential, int64) error { return nil }

func (f *fakeAPI) Competencies(context.Context, upstream.Credential, int64) ([]upstream.Competency, error) {
	return nil, nil
}

func (f *fakeAPI) SaveCompetency(context.Context, upstream.Credential, upstream.Competency) error {
	return nil
}

func (f *fakeAPI) DeleteCompetency(context.Context, upstream.Credential, int64) error { return nil }

func (f *fakeAPI) SaveDescriptor(context.Context, upstream.Credential, upstream.Descriptor) error {
	return nil
}

func (f *fakeAPI) DeleteDescriptor(context.Context, upstream.Credential, int64) error { return nil }

func (f *fakeAPI) Assignments(context.Context, upstream.Credential, int64) ([]upstream.Assignment, error) {
	return nil, nil
}

func (f *fakeAPI) Assign(_ context.Context, _ upstream.Credential, chunk []upstream.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range chunk {
		if a.ColaboradorID == f.failAssign {
			return &upstream.HTTPError{Status: http.StatusBadRequest, Message: "colaborador inexistente"}
		}
	}
	f.assigned += len(chunk)
	return nil
}

func (f *fakeAPI) DeleteAssignment(context.Context, upstream.Credential, upstream.Assignment) error {
	return nil
}

func (f *fakeAPI) Ratings(context.Context, upstream.Credential) ([]upstream.Rating, error) {
	return nil, nil
}

func routerAs(h *Handler, profile int) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			identity := session.Identity{User: upstream.User{Document: "900", ProfileID: profile}}
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), identity)))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func newHandler(api *fakeAPI, store *middleware.IdempotencyStore) *Handler {
	return NewHandler(admin.NewService(api), audit.NewLogger(nil, nil), store, BatchConfig{ChunkSize: 1, Concurrency: 2})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestAdminRoutesRequireAdminProfile(t *testing.T) {
	rec := httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{}, nil), 2).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{}, nil), 2).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateUserReturnsRefreshedList(t *testing.T) {
	api := &fakeAPI{}
	body := `{"documento":"77","nombre":"Ana","email":"ana@example.com","idPerfil":1,"activo":true}`
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var users []upstream.User
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "77", users[0].Document)
}

func TestCreateUserValidationNamesFields(t *testing.T) {
	api := &fakeAPI{}
	body := `{"documento":"77","nombre":"Ana","email":"nope","idPerfil":9}`
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Contains(t, rec.Body.String(), `"field":"email"`)
	assert.Contains(t, rec.Body.String(), `"field":"idPerfil"`)
	assert.Empty(t, api.users)
}

func TestDeactivateUser(t *testing.T) {
	api := &fakeAPI{users: []upstream.User{{Document: "77", Active: true}}}
	h := newHandler(api, nil)

	rec := httptest.NewRecorder()
	routerAs(h, 3).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/users/77", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, api.users[0].Active)

	rec = httptest.NewRecorder()
	routerAs(h, 3).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/users/12", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	routerAs(h, 3).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/users/900", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteCompanyPassesApiMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{}, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/companies/4", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "la empresa tiene sedes", env.Error.Message)
}

func TestSaveCompanyRejectsBadID(t *testing.T) {
	rec := httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{}, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/companies/abc", strings.NewReader(`{"nombre":"X"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const bulkBody = `{"idEvaluacion":4,"asignaciones":[
{"idColaborador":"1","idEvaluador":"900","evaluacion":true},
{"idColaborador":"2","idEvaluador":"900","evaluacion":true},
{"idColaborador":"3","idEvaluador":"900","evaluacion":true}]}`

func TestBulkAssignAllChunksSucceed(t *testing.T) {
	api := &fakeAPI{}
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(bulkBody)))

	require.Equal(t, http.StatusOK, rec.Code)
	var out bulkResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &out))
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 3, out.Chunks)
	assert.Equal(t, 3, out.Succeeded)
	assert.Equal(t, 3, api.assigned)
}

func TestBulkAssignReportsFailedChunks(t *testing.T) {
	api := &fakeAPI{failAssign: "2"}
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(bulkBody)))

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bulk_partial", env.Error.Code)
	var out bulkResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 1, out.Errors[0].Index)
	assert.Equal(t, []string{"colaborador inexistente"}, out.Messages)
}

func TestBulkAssignValidatesBeforeSending(t *testing.T) {
	api := &fakeAPI{}
	body := `{"idEvaluacion":4,"asignaciones":[{"idColaborador":"1","idEvaluador":"900"},{"idColaborador":"","idEvaluador":"900"}]}`
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, nil), 3).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `asignaciones[1].idColaborador`)
	assert.Zero(t, api.assigned)
}

func TestBulkAssignReplaysStoredResponse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stored := []byte(`{"total":3,"chunks":3,"succeeded":3,"failed":0}`)
	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-1", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"request_hash", "response_json"}).AddRow(middleware.RequestHash([]byte(bulkBody)), stored))

	api := &fakeAPI{}
	req := httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(bulkBody))
	req.Header.Set(middleware.IdempotencyHeader, "bulk-1")
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, middleware.NewIdempotencyStore(mock, time.Hour)), 3).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, api.assigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAssignStoresResponse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-2", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO idempotency_keys[\s\S]+VALUES \(\$1, \$2, \$3, \$4, NULL\)`).
		WithArgs("900", "bulk-2", bulkEndpoint, middleware.RequestHash([]byte(bulkBody)), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO idempotency_keys`).
		WithArgs("900", "bulk-2", bulkEndpoint, middleware.RequestHash([]byte(bulkBody)), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	api := &fakeAPI{}
	req := httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(bulkBody))
	req.Header.Set(middleware.IdempotencyHeader, "bulk-2")
	rec := httptest.NewRecorder()
	routerAs(newHandler(api, middleware.NewIdempotencyStore(mock, time.Hour)), 3).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, api.assigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAssignKeyConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-3", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"request_hash", "response_json"}).AddRow("other", []byte(`{}`)))

	req := httptest.NewRequest(http.MethodPost, "/assignments/bulk", bytes.NewBufferString(bulkBody))
	req.Header.Set(middleware.IdempotencyHeader, "bulk-3")
	rec := httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{}, middleware.NewIdempotencyStore(mock, time.Hour)), 3).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAssignRejectsRunningKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hash := middleware.RequestHash([]byte(bulkBody))
	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-4", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"request_hash", "response_json"}).AddRow(hash, nil))
	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-4", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO idempotency_keys[\s\S]+NULL\)`).
		WithArgs("900", "bulk-4", bulkEndpoint, hash, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	api := &fakeAPI{}
	router := routerAs(newHandler(api, middleware.NewIdempotencyStore(mock, time.Hour)), 3)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(bulkBody))
		req.Header.Set(middleware.IdempotencyHeader, "bulk-4")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusConflict, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, "idempotency_in_progress", env.Error.Code)
	}
	assert.Zero(t, api.assigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAssignReleasesKeyWhenEveryChunkFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	body := `{"idEvaluacion":4,"asignaciones":[{"idColaborador":"7","idEvaluador":"900","evaluacion":true}]}`
	mock.ExpectQuery(`SELECT request_hash, response_json\s+FROM idempotency_keys`).
		WithArgs("900", "bulk-5", bulkEndpoint, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO idempotency_keys[\s\S]+NULL\)`).
		WithArgs("900", "bulk-5", bulkEndpoint, middleware.RequestHash([]byte(body)), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM idempotency_keys[\s\S]+response_json IS NULL`).
		WithArgs("900", "bulk-5", bulkEndpoint).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	req := httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(body))
	req.Header.Set(middleware.IdempotencyHeader, "bulk-5")
	rec := httptest.NewRecorder()
	routerAs(newHandler(&fakeAPI{failAssign: "7"}, middleware.NewIdempotencyStore(mock, time.Hour)), 3).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

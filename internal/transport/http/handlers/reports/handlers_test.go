package reportshandler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/reports"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/upstream"
)

type fakeAPI struct {
	resultsFor []string
	resultsErr error
	archiveFor []string
}

func (f *fakeAPI) Results(_ context.Context, _ upstream.Credential, _ int64, colaboradorID, evaluatorID string) ([]upstream.Result, error) {
	f.resultsFor = []string{colaboradorID, evaluatorID}
	return []upstream.Result{
		{CompetencyID: 1, Competency: "Liderazgo", Value: 4, ColaboradorID: "200", EvaluatorID: "100"},
		{CompetencyID: 1, Competency: "Liderazgo", Value: 2, ColaboradorID: "201", EvaluatorID: "101"},
	}, f.resultsErr
}

func (f *fakeAPI) Comments(context.Context, upstream.Credential, int64) ([]upstream.Comment, error) {
	return nil, nil
}

func (f *fakeAPI) Commitments(context.Context, upstream.Credential, int64) ([]upstream.Commitment, error) {
	return nil, nil
}

func (f *fakeAPI) Ratings(context.Context, upstream.Credential) ([]upstream.Rating, error) {
	return []upstream.Rating{{ID: 1, Value: 1}, {ID: 5, Value: 5}}, nil
}

func (f *fakeAPI) Summary(context.Context, upstream.Credential, int64) (upstream.Summary, error) {
	return upstream.Summary{Total: 2, Completed: 1, Pending: 1}, nil
}

func (f *fakeAPI) PDFArchive(_ context.Context, _ upstream.Credential, _ int64, documents []string) (*http.Response, error) {
	f.archiveFor = documents
	header := http.Header{}
	header.Set("Content-Type", "application/zip")
	header.Set("Content-Disposition", `attachment; filename="../../reportes.zip"`)
	return &http.Response{StatusCode: http.StatusOK, Header: header, ContentLength: 4, Body: io.NopCloser(strings.NewReader("PK\x03\x04"))}, nil
}

func newRouter(fake *fakeAPI, profile int) http.Handler {
	h := NewHandler(reports.NewService(fake), audit.NewLogger(nil, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			identity := session.Identity{User: upstream.User{Document: "100", ProfileID: profile}}
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), identity)))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestDashboardScopesEvaluators(t *testing.T) {
	fake := &fakeAPI{}
	rec := serve(newRouter(fake, 2), http.MethodGet, "/reports/dashboard?evaluationId=7&evaluadorId=999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"", "100"}, fake.resultsFor)

	var env struct {
		Data reports.Dashboard `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, int64(7), env.Data.EvaluationID)

	rec = serve(newRouter(fake, 3), http.MethodGet, "/reports/dashboard?evaluationId=7&evaluadorId=999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"", "999"}, fake.resultsFor)
}

func TestReportsRequireEvaluationAndTier(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, serve(newRouter(&fakeAPI{}, 2), http.MethodGet, "/reports/curve", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(newRouter(&fakeAPI{}, 1), http.MethodGet, "/reports/curve?evaluationId=7", "").Code)
}

func TestOwnResultsForColaborador(t *testing.T) {
	fake := &fakeAPI{}
	rec := serve(newRouter(fake, 1), http.MethodGet, "/reports/me?evaluationId=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"100", ""}, fake.resultsFor)
}

func TestDashboardUpstreamFailure(t *testing.T) {
	fake := &fakeAPI{resultsErr: &upstream.HTTPError{Status: http.StatusInternalServerError}}
	rec := serve(newRouter(fake, 2), http.MethodGet, "/reports/dashboard?evaluationId=7", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPDFArchiveStreams(t *testing.T) {
	fake := &fakeAPI{}
	rec := serve(newRouter(fake, 2), http.MethodPost, "/reports/pdfs", `{"evaluationId":7,"documentos":["200","201"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="reportes.zip"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "PK\x03\x04", rec.Body.String())
	assert.Equal(t, []string{"200", "201"}, fake.archiveFor)

	rec = serve(newRouter(fake, 2), http.MethodPost, "/reports/pdfs", `{"evaluationId":7,"documentos":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Package reports assembles the evaluator and admin report pages from
// several API calls and streams the server generated PDF archive.
package reports

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"evalportal/internal/domain/charts"
	"evalportal/internal/domain/stats"
	"evalportal/internal/upstream"
)

const (
	defaultScaleMin = 1
	defaultScaleMax = 5
	curveStep       = 0.5
	archiveType     = "application/zip"
)

type API interface {
	Results(ctx context.Context, cred upstream.Credential, evaluationID int64, colaboradorID, evaluatorID string) ([]upstream.Result, error)
	Comments(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Comment, error)
	Commitments(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Commitment, error)
	Ratings(ctx context.Context, cred upstream.Credential) ([]upstream.Rating, error)
	Summary(ctx context.Context, cred upstream.Credential, evaluationID int64) (upstream.Summary, error)
	PDFArchive(ctx context.Context, cred upstream.Credential, evaluationID int64, documents []string) (*http.Response, error)
}

type Service struct {
	api API
}

func NewService(api API) *Service {
	return &Service{api: api}
}

// Dashboard issues the three report calls together and builds the page only
// once all of them have answered.
func (s *Service) Dashboard(ctx context.Context, cred upstream.Credential, q Query) (Dashboard, error) {
	var (
		results     []upstream.Result
		comments    []upstream.Comment
		commitments []upstream.Commitment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		results, err = s.api.Results(gctx, cred, q.EvaluationID, q.ColaboradorID, q.EvaluatorID)
		if err != nil {
			return fmt.Errorf("load results: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		comments, err = s.api.Comments(gctx, cred, q.EvaluationID)
		if err != nil {
			return fmt.Errorf("load comments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		commitments, err = s.api.Commitments(gctx, cred, q.EvaluationID)
		if err != nil {
			return fmt.Errorf("load commitments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return buildDashboard(q, results, comments, commitments), nil
}

func (s *Service) Curve(ctx context.Context, cred upstream.Credential, q Query) (CurveView, error) {
	var (
		results []upstream.Result
		ratings []upstream.Rating
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		results, err = s.api.Results(gctx, cred, q.EvaluationID, q.ColaboradorID, q.EvaluatorID)
		if err != nil {
			return fmt.Errorf("load results: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		ratings, err = s.api.Ratings(gctx, cred)
		if err != nil {
			return fmt.Errorf("load ratings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return CurveView{}, err
	}

	values := make([]float64, 0, len(results))
	for _, r := range results {
		values = append(values, r.Value)
	}
	lo, hi := scaleRange(ratings)
	curve := stats.PerformanceCurve(values, lo, hi, curveStep)

	expected := make([]charts.XY, 0, len(curve.Expected))
	for _, p := range curve.Expected {
		expected = append(expected, charts.XY{X: formatValue(p.Value), Y: p.Weight})
	}
	return CurveView{
		Curve:        curve,
		Distribution: charts.Distribution(values),
		Expected:     charts.Line("esperado", expected),
	}, nil
}

func (s *Service) Summary(ctx context.Context, cred upstream.Credential, evaluationID int64) (upstream.Summary, error) {
	summary, err := s.api.Summary(ctx, cred, evaluationID)
	if err != nil {
		return upstream.Summary{}, fmt.Errorf("load summary: %w", err)
	}
	return summary, nil
}

// DownloadPDFs asks the API for the PDF archive and hands back its body
// unread. The caller must close Download.Body.
func (s *Service) DownloadPDFs(ctx context.Context, cred upstream.Credential, evaluationID int64, documents []string) (Download, error) {
	resp, err := s.api.PDFArchive(ctx, cred, evaluationID, documents)
	if err != nil {
		return Download{}, fmt.Errorf("request pdf archive: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = archiveType
	}
	return Download{
		Filename:    ArchiveFilename(resp.Header.Get("Content-Disposition"), evaluationID),
		ContentType: contentType,
		Length:      resp.ContentLength,
		Body:        resp.Body,
	}, nil
}

// ArchiveFilename takes the filename from a Content-Disposition header and
// falls back to reportes_<evaluationID>.zip.
func ArchiveFilename(disposition string, evaluationID int64) string {
	fallback := fmt.Sprintf("reportes_%d.zip", evaluationID)
	if strings.TrimSpace(disposition) == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	name := strings.TrimSpace(params["filename"])
	if name == "" {
		return fallback
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}

func scaleRange(ratings []upstream.Rating) (float64, float64) {
	if len(ratings) == 0 {
		return defaultScaleMin, defaultScaleMax
	}
	lo, hi := ratings[0].Value, ratings[0].Value
	for _, r := range ratings[1:] {
		lo = min(lo, r.Value)
		hi = max(hi, r.Value)
	}
	if hi <= lo {
		return defaultScaleMin, defaultScaleMax
	}
	return lo, hi
}

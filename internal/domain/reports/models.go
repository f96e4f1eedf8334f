package reports

import (
	"io"
	"math"
	"strconv"

	"evalportal/internal/domain/charts"
	"evalportal/internal/domain/stats"
	"evalportal/internal/upstream"
)

// Query scopes a report. Empty ids mean "everyone the caller can see".
type Query struct {
	EvaluationID  int64
	ColaboradorID string
	EvaluatorID   string
}

type Dashboard struct {
	EvaluationID int64                 `json:"evaluationId"`
	Responses    int                   `json:"responses"`
	Evaluated    int                   `json:"evaluated"`
	Overall      float64               `json:"overall"`
	Averages     charts.Series         `json:"averages"`
	Comments     []upstream.Comment    `json:"comments"`
	Feedback     charts.Series         `json:"feedback"`
	Commitments  []upstream.Commitment `json:"commitments"`
	ActionStatus charts.Series         `json:"actionStatus"`
}

type CurveView struct {
	Curve        stats.Curve   `json:"curve"`
	Distribution charts.Series `json:"distribution"`
	Expected     charts.Series `json:"expected"`
}

type Download struct {
	Filename    string
	ContentType string
	Length      int64
	Body        io.ReadCloser
}

func buildDashboard(q Query, results []upstream.Result, comments []upstream.Comment, commitments []upstream.Commitment) Dashboard {
	d := Dashboard{
		EvaluationID: q.EvaluationID,
		Responses:    len(results),
		Averages:     charts.CompetencyAverages(results),
		Comments:     []upstream.Comment{},
		Commitments:  []upstream.Commitment{},
	}

	evaluated := map[string]struct{}{}
	values := make([]float64, 0, len(results))
	for _, r := range results {
		evaluated[r.ColaboradorID] = struct{}{}
		values = append(values, r.Value)
	}
	d.Evaluated = len(evaluated)
	if mean := stats.Mean(values); !math.IsNaN(mean) {
		d.Overall = math.Round(mean*100) / 100
	}

	inScope := map[int64]struct{}{}
	feedback := map[string]float64{"confirmada": 0, "pendiente": 0}
	for _, c := range comments {
		if q.ColaboradorID != "" && c.ColaboradorID != q.ColaboradorID {
			continue
		}
		if q.EvaluatorID != "" && c.EvaluatorID != q.EvaluatorID {
			continue
		}
		d.Comments = append(d.Comments, c)
		inScope[c.ID] = struct{}{}
		if c.Confirmed {
			feedback["confirmada"]++
		} else {
			feedback["pendiente"]++
		}
	}
	d.Feedback = charts.Pie(feedback)

	statuses := map[string]float64{}
	for _, c := range commitments {
		if _, ok := inScope[c.CommentID]; !ok {
			continue
		}
		d.Commitments = append(d.Commitments, c)
		statuses[c.Status]++
	}
	d.ActionStatus = charts.Pie(statuses)
	return d
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package followup

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"evalportal/internal/upstream"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("actionstatus", func(fl validator.FieldLevel) bool {
		return ActionStatus(fl.Field().String()).Valid()
	})
	return v
}

// Averages is the mean rating per competency.
func Averages(results []upstream.Result) map[int64]float64 {
	sums := map[int64]float64{}
	counts := map[int64]int{}
	for _, r := range results {
		sums[r.CompetencyID] += r.Value
		counts[r.CompetencyID]++
	}
	out := make(map[int64]float64, len(sums))
	for id, sum := range sums {
		out[id] = sum / float64(counts[id])
	}
	return out
}

// Eligible lists the competencies averaging below threshold, by id.
func Eligible(averages map[int64]float64, threshold float64) []int64 {
	var out []int64
	for id, avg := range averages {
		if avg < threshold {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scores joins Eligible with competency names.
func Scores(results []upstream.Result, threshold float64) []CompetencyScore {
	names := map[int64]string{}
	for _, r := range results {
		if _, ok := names[r.CompetencyID]; !ok {
			names[r.CompetencyID] = r.Competency
		}
	}
	averages := Averages(results)
	ids := Eligible(averages, threshold)
	out := make([]CompetencyScore, 0, len(ids))
	for _, id := range ids {
		out = append(out, CompetencyScore{CompetencyID: id, Name: names[id], Average: averages[id]})
	}
	return out
}

// LimitsFor bounds the action list: none required without eligible
// competencies, otherwise between one and min(eligible, MaxActions).
func LimitsFor(eligible int) Limits {
	if eligible <= 0 {
		return Limits{}
	}
	return Limits{Min: 1, Max: min(eligible, MaxActions)}
}

func CanAddAction(count, eligible int) bool {
	return count < LimitsFor(eligible).Max
}

// ValidateEvaluator checks an evaluator's comment and action plan before
// anything is sent.
func ValidateEvaluator(form Form, eligible []int64) error {
	form = form.normalized()
	issues := evaluatorFormIssues(form)
	limits := LimitsFor(len(eligible))
	switch n := len(form.Actions); {
	case n < limits.Min:
		issues = append(issues, Issue{Field: "actions", Message: fmt.Sprintf("registre al menos %d acción de mejora", limits.Min)})
	case n > limits.Max:
		issues = append(issues, Issue{Field: "actions", Message: fmt.Sprintf("máximo %d acciones de mejora", limits.Max)})
	}
	allowed := map[int64]bool{}
	for _, id := range eligible {
		allowed[id] = true
	}
	for i, a := range form.Actions {
		if a.CompetencyID > 0 && !allowed[a.CompetencyID] {
			issues = append(issues, Issue{Field: fmt.Sprintf("actions[%d].competencyId", i), Message: "la competencia no requiere acción de mejora"})
		}
	}
	return asError(issues)
}

// evaluatorFormIssues holds the evaluator checks that need no results from
// the API.
func evaluatorFormIssues(form Form) []Issue {
	issues := structIssues(form)
	if !form.Confirmed {
		issues = append(issues, Issue{Field: "confirmed", Message: "confirme que realizó la retroalimentación"})
	}
	return append(issues, dueDateIssues(form.Actions)...)
}

func dueDateIssues(actions []Action) []Issue {
	var issues []Issue
	for i, a := range actions {
		if a.DueDate.IsZero() {
			issues = append(issues, Issue{Field: fmt.Sprintf("actions[%d].dueDate", i), Message: "requerido"})
		}
	}
	return issues
}

// ValidateSelf checks a self-assessment comment; actions are not accepted.
func ValidateSelf(form Form) error {
	form = form.normalized()
	issues := structIssues(Form{Comment: form.Comment})
	if len(form.Actions) > 0 {
		issues = append(issues, Issue{Field: "actions", Message: "la autoevaluación no admite acciones de mejora"})
	}
	return asError(issues)
}

// ValidateFollowUp is the completeness rule of the follow-up edit page.
func ValidateFollowUp(confirmed bool, competencies, actions int) bool {
	return confirmed && ((competencies >= 3 && actions >= 3) || (competencies <= 3 && actions == competencies))
}

// CanDeleteAction hints whether the API will still accept deleting an
// action. An unknown creation time is left to the API to decide.
func CanDeleteAction(createdAt, now time.Time) bool {
	if createdAt.IsZero() {
		return true
	}
	return now.Sub(createdAt) <= DeleteWindow
}

func structIssues(form Form) []Issue {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Issue{{Field: "form", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{Field: issueField(fe), Message: issueMessage(fe)})
	}
	return issues
}

func issueField(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "requerido"
	case "max":
		return "máximo " + fe.Param() + " caracteres"
	case "gt":
		return "requerido"
	case "actionstatus":
		return "estado inválido"
	default:
		return "inválido"
	}
}

func asError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

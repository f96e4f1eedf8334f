package followup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"evalportal/internal/upstream"
)

var (
	ErrInvalid       = errors.New("invalid follow-up")
	ErrActionsFailed = errors.New("some improvement actions were not saved")
	ErrNoComment     = errors.New("no saved comment for this evaluation")
)

type Key struct {
	EvaluationID  int64  `json:"evaluationId"`
	EvaluatorID   string `json:"evaluatorId"`
	ColaboradorID string `json:"colaboradorId"`
}

func (k Key) SelfAssessment() bool {
	return k.EvaluatorID == k.ColaboradorID
}

func (k Key) String() string {
	return strconv.FormatInt(k.EvaluationID, 10) + ":" + k.EvaluatorID + ":" + k.ColaboradorID
}

type Action struct {
	ID           int64         `json:"id,omitempty"`
	CompetencyID int64         `json:"competencyId" validate:"required,gt=0"`
	Description  string        `json:"description" validate:"required,max=1000"`
	Status       ActionStatus  `json:"status" validate:"required,actionstatus"`
	DueDate      upstream.Date `json:"dueDate"`
	CreatedAt    time.Time     `json:"createdAt,omitempty"`
	CanDelete    bool          `json:"canDelete"`
}

type Form struct {
	Comment   string   `json:"comment" validate:"required,max=4000"`
	Confirmed bool     `json:"confirmed"`
	Actions   []Action `json:"actions" validate:"dive"`
}

func (f Form) normalized() Form {
	out := f
	out.Comment = strings.TrimSpace(f.Comment)
	out.Actions = make([]Action, len(f.Actions))
	for i, a := range f.Actions {
		a.Description = strings.TrimSpace(a.Description)
		out.Actions[i] = a
	}
	return out
}

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrInvalid.Error()
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalid, e.Issues[0].Field, e.Issues[0].Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

type CompetencyScore struct {
	CompetencyID int64   `json:"competencyId"`
	Name         string  `json:"name"`
	Average      float64 `json:"average"`
}

type Limits struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type ActionOutcome struct {
	Index int    `json:"index"`
	ID    int64  `json:"id,omitempty"`
	Saved bool   `json:"saved"`
	Error string `json:"error,omitempty"`
}

type SaveResult struct {
	CommentID     int64           `json:"commentId"`
	Actions       []ActionOutcome `json:"actions"`
	Next          string          `json:"next"`
	RedirectAfter int64           `json:"redirectAfterMs"`
}

func (r SaveResult) Failed() []ActionOutcome {
	var out []ActionOutcome
	for _, a := range r.Actions {
		if !a.Saved {
			out = append(out, a)
		}
	}
	return out
}

// Record is a saved follow-up as the edit page loads it.
type Record struct {
	Key      Key               `json:"key"`
	Comment  upstream.Comment  `json:"comment"`
	Actions  []Action          `json:"actions"`
	Eligible []CompetencyScore `json:"eligible"`
	Limits   Limits            `json:"limits"`
	Statuses []ActionStatus    `json:"statuses"`
}

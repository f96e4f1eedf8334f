package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"evalportal/internal/upstream"
)

var (
	ErrEvaluationFinished = errors.New("evaluation finished")
	ErrNoCompetencies     = errors.New("evaluation has no competencies")
	ErrInvalidTransition  = errors.New("invalid wizard transition")
	ErrUnknownDescriptor  = errors.New("descriptor not on current page")
	ErrUnknownRating      = errors.New("rating not in scale")
	ErrPageIncomplete     = errors.New("page incomplete")
	ErrUnknownCommand     = errors.New("unknown wizard command")
	ErrNotFound           = errors.New("wizard not found")
)

// IncompleteError lists the descriptors still missing a rating.
type IncompleteError struct {
	Page    int
	Missing []int64
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("page %d incomplete: %d descriptors without rating", e.Page, len(e.Missing))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrPageIncomplete
}

// Key identifies one evaluation of one colaborador by one evaluator.
type Key struct {
	EvaluationID  int64  `json:"evaluationId"`
	EvaluatorID   string `json:"evaluatorId"`
	ColaboradorID string `json:"colaboradorId"`
}

func (k Key) Mode() Mode {
	if k.EvaluatorID == k.ColaboradorID {
		return ModeSelfAssessment
	}
	return ModeEvaluation
}

func (k Key) String() string {
	return strconv.FormatInt(k.EvaluationID, 10) + ":" + k.EvaluatorID + ":" + k.ColaboradorID
}

// Phase is the wizard's tagged state. Page is only meaningful while answering.
type Phase struct {
	Kind PhaseKind `json:"kind"`
	Page int       `json:"page,omitempty"`
}

func Intro() Phase { return Phase{Kind: PhaseIntro} }

func Answering(page int) Phase { return Phase{Kind: PhaseAnswering, Page: page} }

func ConfirmingSubmit() Phase { return Phase{Kind: PhaseConfirmingSubmit} }

func Completed() Phase { return Phase{Kind: PhaseCompleted} }

func (p Phase) Is(k PhaseKind) bool { return p.Kind == k }

type Command struct {
	Command      string `json:"command" validate:"required,oneof=start answer next previous cancel submit"`
	DescriptorID int64  `json:"descriptorId,omitempty"`
	RatingID     int64  `json:"ratingId,omitempty"`
}

type Prompt struct {
	Title    string `json:"title"`
	Confirm  string `json:"confirm"`
	Guidance string `json:"guidance"`
}

type PageProgress struct {
	CompetencyID int64  `json:"competencyId"`
	Name         string `json:"name"`
	Answered     int    `json:"answered"`
	Total        int    `json:"total"`
	Complete     bool   `json:"complete"`
}

type Progress struct {
	Answered int            `json:"answered"`
	Total    int            `json:"total"`
	Percent  float64        `json:"percent"`
	Pages    []PageProgress `json:"pages"`
}

// Outcome is what a command produced. Redirect is set when the client must
// leave the wizard, e.g. when the answers were already registered.
type Outcome struct {
	State    State  `json:"state"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

type State struct {
	Key          Key                   `json:"key"`
	Phase        Phase                 `json:"phase"`
	Evaluation   upstream.Evaluation   `json:"evaluation"`
	Competencies []upstream.Competency `json:"competencies"`
	Scale        []upstream.Rating     `json:"scale"`
	Answers      map[int64]int64       `json:"answers"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

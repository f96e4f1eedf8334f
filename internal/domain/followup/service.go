package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"evalportal/internal/upstream"
)

type API interface {
	Results(ctx context.Context, cred upstream.Credential, evaluationID int64, colaboradorID, evaluatorID string) ([]upstream.Result, error)
	CreateComment(ctx context.Context, cred upstream.Credential, comment upstream.Comment) (upstream.Comment, error)
	UpdateComment(ctx context.Context, cred upstream.Credential, comment upstream.Comment) error
	CreateCommitment(ctx context.Context, cred upstream.Credential, commitment upstream.Commitment) error
	UpdateCommitment(ctx context.Context, cred upstream.Credential, commitment upstream.Commitment) error
	DeleteCommitment(ctx context.Context, cred upstream.Credential, id int64) error
	FollowUp(ctx context.Context, cred upstream.Credential, evaluationID int64, colaboradorID, evaluatorID string) (upstream.FollowUp, error)
}

type Service struct {
	api API
	now func() time.Time
}

func NewService(api API) *Service {
	return &Service{api: api, now: time.Now}
}

// Eligible loads the evaluator's results and returns the competencies that
// call for an improvement action.
func (s *Service) Eligible(ctx context.Context, cred upstream.Credential, key Key) ([]CompetencyScore, error) {
	results, err := s.api.Results(ctx, cred, key.EvaluationID, key.ColaboradorID, key.EvaluatorID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return Scores(results, Threshold), nil
}

// Save validates the form, posts the comment, then posts each action on its
// own. Actions that fail are reported in the result; the comment stays.
func (s *Service) Save(ctx context.Context, cred upstream.Credential, key Key, form Form) (SaveResult, error) {
	form = form.normalized()
	if key.SelfAssessment() {
		if err := ValidateSelf(form); err != nil {
			return SaveResult{}, err
		}
	} else {
		if err := asError(evaluatorFormIssues(form)); err != nil {
			return SaveResult{}, err
		}
		eligible, err := s.Eligible(ctx, cred, key)
		if err != nil {
			return SaveResult{}, err
		}
		if err := ValidateEvaluator(form, scoreIDs(eligible)); err != nil {
			return SaveResult{}, err
		}
	}

	comment, err := s.api.CreateComment(ctx, cred, upstream.Comment{
		EvaluationID:  key.EvaluationID,
		ColaboradorID: key.ColaboradorID,
		EvaluatorID:   key.EvaluatorID,
		Text:          form.Comment,
		Confirmed:     form.Confirmed,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save comment: %w", err)
	}

	res := SaveResult{
		CommentID:     comment.ID,
		Actions:       []ActionOutcome{},
		Next:          EvaluatorListPath,
		RedirectAfter: RedirectDelay.Milliseconds(),
	}
	if key.SelfAssessment() {
		res.Next = HomePath
		return res, nil
	}

	for i, a := range form.Actions {
		outcome := ActionOutcome{Index: i, Saved: true}
		if err := s.api.CreateCommitment(ctx, cred, toCommitment(comment.ID, a)); err != nil {
			slog.Warn("improvement action save failed", "evaluationId", key.EvaluationID, "colaboradorId", key.ColaboradorID, "index", i, "err", err)
			outcome.Saved = false
			outcome.Error = upstream.Message(err, "no se pudo guardar la acción de mejora")
		}
		res.Actions = append(res.Actions, outcome)
	}
	if len(res.Failed()) > 0 {
		return res, ErrActionsFailed
	}
	return res, nil
}

// Load returns the saved comment and actions with the limits that apply.
func (s *Service) Load(ctx context.Context, cred upstream.Credential, key Key) (Record, error) {
	var (
		saved   upstream.FollowUp
		results []upstream.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		saved, err = s.api.FollowUp(gctx, cred, key.EvaluationID, key.ColaboradorID, key.EvaluatorID)
		return err
	})
	g.Go(func() error {
		var err error
		results, err = s.api.Results(gctx, cred, key.EvaluationID, key.ColaboradorID, key.EvaluatorID)
		return err
	})
	if err := g.Wait(); err != nil {
		if upstream.IsHTTPError(err, http.StatusNotFound) {
			return Record{}, ErrNoComment
		}
		return Record{}, fmt.Errorf("load follow-up: %w", err)
	}
	if saved.Comment.ID == 0 {
		return Record{}, ErrNoComment
	}

	now := s.now()
	eligible := Scores(results, Threshold)
	rec := Record{
		Key:      key,
		Comment:  saved.Comment,
		Actions:  make([]Action, 0, len(saved.Commitments)),
		Eligible: eligible,
		Limits:   LimitsFor(len(eligible)),
		Statuses: Statuses,
	}
	if key.SelfAssessment() {
		rec.Limits = Limits{}
	}
	for _, c := range saved.Commitments {
		rec.Actions = append(rec.Actions, Action{
			ID:           c.ID,
			CompetencyID: c.CompetencyID,
			Description:  c.Description,
			Status:       ActionStatus(c.Status),
			DueDate:      c.DueDate,
			CreatedAt:    c.CreatedAt,
			CanDelete:    CanDeleteAction(c.CreatedAt, now),
		})
	}
	return rec, nil
}

// Update rewrites a saved follow-up. Existing actions (with an id) are
// updated; new ones are created under the saved comment.
func (s *Service) Update(ctx context.Context, cred upstream.Credential, key Key, form Form) (SaveResult, error) {
	form = form.normalized()
	if key.SelfAssessment() {
		if err := ValidateSelf(form); err != nil {
			return SaveResult{}, err
		}
	} else if err := asError(append(structIssues(form), dueDateIssues(form.Actions)...)); err != nil {
		return SaveResult{}, err
	}
	rec, err := s.Load(ctx, cred, key)
	if err != nil {
		return SaveResult{}, err
	}

	if !key.SelfAssessment() && !ValidateFollowUp(form.Confirmed, len(rec.Eligible), len(form.Actions)) {
		return SaveResult{}, asError([]Issue{{
			Field:   "actions",
			Message: fmt.Sprintf("confirme la retroalimentación y registre las acciones requeridas para %d competencias", len(rec.Eligible)),
		}})
	}

	comment := rec.Comment
	comment.Text = form.Comment
	comment.Confirmed = form.Confirmed
	if err := s.api.UpdateComment(ctx, cred, comment); err != nil {
		return SaveResult{}, fmt.Errorf("update comment: %w", err)
	}

	res := SaveResult{
		CommentID:     comment.ID,
		Actions:       []ActionOutcome{},
		Next:          EvaluatorListPath,
		RedirectAfter: RedirectDelay.Milliseconds(),
	}
	if key.SelfAssessment() {
		res.Next = HomePath
		return res, nil
	}
	for i, a := range form.Actions {
		outcome := ActionOutcome{Index: i, ID: a.ID, Saved: true}
		commitment := toCommitment(comment.ID, a)
		var err error
		if a.ID > 0 {
			err = s.api.UpdateCommitment(ctx, cred, commitment)
		} else {
			err = s.api.CreateCommitment(ctx, cred, commitment)
		}
		if err != nil {
			slog.Warn("improvement action update failed", "evaluationId", key.EvaluationID, "colaboradorId", key.ColaboradorID, "index", i, "err", err)
			outcome.Saved = false
			outcome.Error = upstream.Message(err, "no se pudo guardar la acción de mejora")
		}
		res.Actions = append(res.Actions, outcome)
	}
	if len(res.Failed()) > 0 {
		return res, ErrActionsFailed
	}
	return res, nil
}

func (s *Service) DeleteAction(ctx context.Context, cred upstream.Credential, actionID int64) error {
	if actionID <= 0 {
		return &ValidationError{Issues: []Issue{{Field: "actionId", Message: "requerido"}}}
	}
	return s.api.DeleteCommitment(ctx, cred, actionID)
}

// IsValidation reports whether err came from form validation.
func IsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func toCommitment(commentID int64, a Action) upstream.Commitment {
	return upstream.Commitment{
		ID:           a.ID,
		CommentID:    commentID,
		CompetencyID: a.CompetencyID,
		Description:  a.Description,
		Status:       string(a.Status),
		DueDate:      a.DueDate,
	}
}

func scoreIDs(scores []CompetencyScore) []int64 {
	out := make([]int64, len(scores))
	for i, s := range scores {
		out[i] = s.CompetencyID
	}
	return out
}

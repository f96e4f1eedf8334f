// Package admin backs the management pages: validated pass-through writes to
// the evaluation API followed by a refetch of the affected list.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"evalportal/internal/domain/batch"
	"evalportal/internal/upstream"
)

var ErrInvalid = errors.New("invalid input")

type API interface {
	Users(ctx context.Context, cred upstream.Credential, filter url.Values) ([]upstream.User, error)
	CreateUser(ctx context.Context, cred upstream.Credential, user upstream.User) error
	UpdateUser(ctx context.Context, cred upstream.Credential, user upstream.User) error
	Companies(ctx context.Context, cred upstream.Credential) ([]upstream.Company, error)
	SaveCompany(ctx context.Context, cred upstream.Credential, company upstream.Company) error
	DeleteCompany(ctx context.Context, cred upstream.Credential, id int64) error
	Sites(ctx context.Context, cred upstream.Credential) ([]upstream.Site, error)
	SaveSite(ctx context.Context, cred upstream.Credential, site upstream.Site) error
	DeleteSite(ctx context.Context, cred upstream.Credential, id int64) error
	Evaluations(ctx context.Context, cred upstream.Credential) ([]upstream.Evaluation, error)
	SaveEvaluation(ctx context.Context, cred upstream.Credential, evaluation upstream.Evaluation) error
	DeleteEvaluation(ctx context.Context, cred upstream.Credential, id int64) error
	Competencies(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Competency, error)
	SaveCompetency(ctx context.Context, cred upstream.Credential, competency upstream.Competency) error
	DeleteCompetency(ctx context.Context, cred upstream.Credential, id int64) error
	SaveDescriptor(ctx context.Context, cred upstream.Credential, descriptor upstream.Descriptor) error
	DeleteDescriptor(ctx context.Context, cred upstream.Credential, id int64) error
	Assignments(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Assignment, error)
	Assign(ctx context.Context, cred upstream.Credential, assignments []upstream.Assignment) error
	DeleteAssignment(ctx context.Context, cred upstream.Credential, assignment upstream.Assignment) error
	Ratings(ctx context.Context, cred upstream.Credential) ([]upstream.Rating, error)
}

type Service struct {
	api      API
	validate *validator.Validate
}

func NewService(api API) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{api: api, validate: v}
}

func (s *Service) check(in any) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Users

func (s *Service) Users(ctx context.Context, cred upstream.Credential, q UserQuery) ([]upstream.User, error) {
	users, err := s.api.Users(ctx, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return FilterUsers(users, q.Term, q.ProfileID, q.CompanyID), nil
}

func (s *Service) CreateUser(ctx context.Context, cred upstream.Credential, in UserInput) ([]upstream.User, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.api.CreateUser(ctx, cred, in.user()); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.Users(ctx, cred, UserQuery{})
}

func (s *Service) UpdateUser(ctx context.Context, cred upstream.Credential, document string, in UserInput) ([]upstream.User, error) {
	in.Document = document
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.api.UpdateUser(ctx, cred, in.user()); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.Users(ctx, cred, UserQuery{})
}

// DeactivateUser is the user page's delete: the API keeps users for their
// evaluation history, so the record is switched off instead.
func (s *Service) DeactivateUser(ctx context.Context, cred upstream.Credential, document string) ([]upstream.User, error) {
	users, err := s.api.Users(ctx, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.Document != document {
			continue
		}
		u.Active = false
		if err := s.api.UpdateUser(ctx, cred, u); err != nil {
			return nil, fmt.Errorf("deactivate user: %w", err)
		}
		return s.Users(ctx, cred, UserQuery{})
	}
	return nil, ErrNotFound
}

func (in UserInput) user() upstream.User {
	return upstream.User{
		Document:  strings.TrimSpace(in.Document),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		ProfileID: in.ProfileID,
		JobLevel:  in.JobLevel,
		Position:  in.Position,
		Active:    in.Active,
		Companies: in.Companies,
	}
}

// Companies and sites

func (s *Service) Companies(ctx context.Context, cred upstream.Credential) ([]CompanyView, error) {
	companies, sites, err := s.companiesAndSites(ctx, cred)
	if err != nil {
		return nil, err
	}
	return CompanyViews(companies, sites), nil
}

func (s *Service) SaveCompany(ctx context.Context, cred upstream.Credential, in CompanyInput) ([]CompanyView, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	company := upstream.Company{ID: in.ID, Name: strings.TrimSpace(in.Name), NIT: strings.TrimSpace(in.NIT), Active: in.Active}
	if err := s.api.SaveCompany(ctx, cred, company); err != nil {
		return nil, fmt.Errorf("save company: %w", err)
	}
	return s.Companies(ctx, cred)
}

func (s *Service) DeleteCompany(ctx context.Context, cred upstream.Credential, id int64) ([]CompanyView, error) {
	if err := s.api.DeleteCompany(ctx, cred, id); err != nil {
		return nil, fmt.Errorf("delete company: %w", err)
	}
	return s.Companies(ctx, cred)
}

func (s *Service) Sites(ctx context.Context, cred upstream.Credential) ([]SiteView, error) {
	companies, sites, err := s.companiesAndSites(ctx, cred)
	if err != nil {
		return nil, err
	}
	return SiteViews(sites, companies), nil
}

func (s *Service) SaveSite(ctx context.Context, cred upstream.Credential, in SiteInput) ([]SiteView, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	companies, err := s.api.Companies(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	site := upstream.Site{ID: in.ID, Name: strings.TrimSpace(in.Name), CompanyID: in.CompanyID, City: strings.TrimSpace(in.City), Active: in.Active}
	if _, ok := CompanyOf(site, companies); !ok {
		return nil, ErrUnknownCompany
	}
	if err := s.api.SaveSite(ctx, cred, site); err != nil {
		return nil, fmt.Errorf("save site: %w", err)
	}
	return s.Sites(ctx, cred)
}

func (s *Service) DeleteSite(ctx context.Context, cred upstream.Credential, id int64) ([]SiteView, error) {
	if err := s.api.DeleteSite(ctx, cred, id); err != nil {
		return nil, fmt.Errorf("delete site: %w", err)
	}
	return s.Sites(ctx, cred)
}

func (s *Service) companiesAndSites(ctx context.Context, cred upstream.Credential) ([]upstream.Company, []upstream.Site, error) {
	var companies []upstream.Company
	var sites []upstream.Site
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		companies, err = s.api.Companies(gctx, cred)
		if err != nil {
			return fmt.Errorf("list companies: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sites, err = s.api.Sites(gctx, cred)
		if err != nil {
			return fmt.Errorf("list sites: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return companies, sites, nil
}

// Evaluations

func (s *Service) Evaluations(ctx context.Context, cred upstream.Credential) ([]upstream.Evaluation, error) {
	evaluations, err := s.api.Evaluations(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	if evaluations == nil {
		evaluations = []upstream.Evaluation{}
	}
	return evaluations, nil
}

func (s *Service) SaveEvaluation(ctx context.Context, cred upstream.Credential, in EvaluationInput) ([]upstream.Evaluation, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate.Time) {
		return nil, ErrDateOrder
	}
	evaluation := upstream.Evaluation{
		ID:           in.ID,
		Name:         strings.TrimSpace(in.Name),
		Year:         in.Year,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Active:       in.Active,
		Objective:    strings.TrimSpace(in.Objective),
		Instructions: strings.TrimSpace(in.Instructions),
	}
	if err := s.api.SaveEvaluation(ctx, cred, evaluation); err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}
	return s.Evaluations(ctx, cred)
}

func (s *Service) DeleteEvaluation(ctx context.Context, cred upstream.Credential, id int64) ([]upstream.Evaluation, error) {
	if err := s.api.DeleteEvaluation(ctx, cred, id); err != nil {
		return nil, fmt.Errorf("delete evaluation: %w", err)
	}
	return s.Evaluations(ctx, cred)
}

// Competencies and descriptors

func (s *Service) Competencies(ctx context.Context, cred upstream.Credential, evaluationID int64) (CompetencyOverview, error) {
	competencies, err := s.api.Competencies(ctx, cred, evaluationID)
	if err != nil {
		return CompetencyOverview{}, fmt.Errorf("list competencies: %w", err)
	}
	return Overview(competencies), nil
}

func (s *Service) SaveCompetency(ctx context.Context, cred upstream.Credential, evaluationID int64, in CompetencyInput) (CompetencyOverview, error) {
	if err := s.check(in); err != nil {
		return CompetencyOverview{}, err
	}
	competency := upstream.Competency{ID: in.ID, Name: strings.TrimSpace(in.Name), Type: strings.TrimSpace(in.Type), Description: strings.TrimSpace(in.Description)}
	if err := s.api.SaveCompetency(ctx, cred, competency); err != nil {
		return CompetencyOverview{}, fmt.Errorf("save competency: %w", err)
	}
	return s.Competencies(ctx, cred, evaluationID)
}

func (s *Service) DeleteCompetency(ctx context.Context, cred upstream.Credential, evaluationID, id int64) (CompetencyOverview, error) {
	if err := s.api.DeleteCompetency(ctx, cred, id); err != nil {
		return CompetencyOverview{}, fmt.Errorf("delete competency: %w", err)
	}
	return s.Competencies(ctx, cred, evaluationID)
}

func (s *Service) SaveDescriptor(ctx context.Context, cred upstream.Credential, evaluationID int64, in DescriptorInput) (CompetencyOverview, error) {
	if err := s.check(in); err != nil {
		return CompetencyOverview{}, err
	}
	competencies, err := s.api.Competencies(ctx, cred, evaluationID)
	if err != nil {
		return CompetencyOverview{}, fmt.Errorf("list competencies: %w", err)
	}
	found := false
	for _, c := range competencies {
		if c.ID == in.CompetencyID {
			found = true
			break
		}
	}
	if !found {
		return CompetencyOverview{}, ErrUnknownCompetency
	}
	descriptor := upstream.Descriptor{ID: in.ID, CompetencyID: in.CompetencyID, Description: strings.TrimSpace(in.Description)}
	if err := s.api.SaveDescriptor(ctx, cred, descriptor); err != nil {
		return CompetencyOverview{}, fmt.Errorf("save descriptor: %w", err)
	}
	return s.Competencies(ctx, cred, evaluationID)
}

func (s *Service) DeleteDescriptor(ctx context.Context, cred upstream.Credential, evaluationID, id int64) (CompetencyOverview, error) {
	if err := s.api.DeleteDescriptor(ctx, cred, id); err != nil {
		return CompetencyOverview{}, fmt.Errorf("delete descriptor: %w", err)
	}
	return s.Competencies(ctx, cred, evaluationID)
}

func (s *Service) Ratings(ctx context.Context, cred upstream.Credential) ([]upstream.Rating, error) {
	ratings, err := s.api.Ratings(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	if ratings == nil {
		ratings = []upstream.Rating{}
	}
	return ratings, nil
}

// Assignments

func (s *Service) Assignments(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Assignment, error) {
	assignments, err := s.api.Assignments(ctx, cred, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if assignments == nil {
		assignments = []upstream.Assignment{}
	}
	return assignments, nil
}

func (s *Service) Assign(ctx context.Context, cred upstream.Credential, evaluationID int64, in AssignmentInput) ([]upstream.Assignment, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.api.Assign(ctx, cred, []upstream.Assignment{in.assignment(evaluationID)}); err != nil {
		return nil, fmt.Errorf("assign evaluation: %w", err)
	}
	return s.Assignments(ctx, cred, evaluationID)
}

func (s *Service) Unassign(ctx context.Context, cred upstream.Credential, evaluationID int64, in AssignmentInput) ([]upstream.Assignment, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.api.DeleteAssignment(ctx, cred, in.assignment(evaluationID)); err != nil {
		return nil, fmt.Errorf("delete assignment: %w", err)
	}
	return s.Assignments(ctx, cred, evaluationID)
}

// BulkAssign validates every row before sending anything, then posts the
// assignments in chunks of size with at most limit requests in flight.
func (s *Service) BulkAssign(ctx context.Context, cred upstream.Credential, in BulkInput, size, limit int) (batch.Result, error) {
	if err := s.check(in); err != nil {
		return batch.Result{}, err
	}
	items := make([]upstream.Assignment, 0, len(in.Assignments))
	for _, a := range in.Assignments {
		items = append(items, a.assignment(in.EvaluationID))
	}
	res := batch.Run(ctx, items, size, limit, func(ctx context.Context, chunk []upstream.Assignment) error {
		return s.api.Assign(ctx, cred, chunk)
	})
	return res, res.Err()
}

func (in AssignmentInput) assignment(evaluationID int64) upstream.Assignment {
	return upstream.Assignment{
		ColaboradorID:  strings.TrimSpace(in.ColaboradorID),
		EvaluatorID:    strings.TrimSpace(in.EvaluatorID),
		EvaluationID:   evaluationID,
		Evaluation:     in.Evaluation,
		SelfAssessment: in.SelfAssessment,
	}
}

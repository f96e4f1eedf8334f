package wizard

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"evalportal/internal/upstream"
)

// ErrAlreadyRegistered is returned with an Outcome that redirects to the
// follow-up page when the API already holds answers for this key.
var ErrAlreadyRegistered = errors.New("answers already registered")

type API interface {
	Evaluation(ctx context.Context, cred upstream.Credential, id int64) (upstream.Evaluation, error)
	Competencies(ctx context.Context, cred upstream.Credential, evaluationID int64) ([]upstream.Competency, error)
	Ratings(ctx context.Context, cred upstream.Credential) ([]upstream.Rating, error)
	SubmitAnswers(ctx context.Context, cred upstream.Credential, answers []upstream.Answer) error
}

// keyLocks stripes the per-key locks that serialize read-modify-write cycles
// against the store.
const keyLocks = 64

type Service struct {
	api   API
	store Store
	now   func() time.Time
	locks [keyLocks]sync.Mutex
}

func NewService(api API, store Store) *Service {
	return &Service{api: api, store: store, now: time.Now}
}

// Begin resumes a stored wizard or starts a new one from the API's data.
func (s *Service) Begin(ctx context.Context, cred upstream.Credential, key Key) (State, error) {
	mu := s.lock(key)
	defer mu.Unlock()

	existing, err := s.store.Get(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return State{}, err
	}

	var (
		evaluation   upstream.Evaluation
		competencies []upstream.Competency
		scale        []upstream.Rating
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		evaluation, err = s.api.Evaluation(gctx, cred, key.EvaluationID)
		return err
	})
	g.Go(func() error {
		var err error
		competencies, err = s.api.Competencies(gctx, cred, key.EvaluationID)
		return err
	})
	g.Go(func() error {
		var err error
		scale, err = s.api.Ratings(gctx, cred)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, fmt.Errorf("load evaluation %d: %w", key.EvaluationID, err)
	}

	state, err := New(key, evaluation, competencies, scale, s.now())
	if err != nil {
		return State{}, err
	}
	if err := s.store.Put(ctx, state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *Service) Get(ctx context.Context, key Key) (State, error) {
	return s.store.Get(ctx, key)
}

// Discard drops stored progress so the next Begin reloads from the API.
func (s *Service) Discard(ctx context.Context, key Key) error {
	return s.store.Delete(ctx, key)
}

// Apply runs one command against the stored wizard. Commands on the same key
// run one at a time.
func (s *Service) Apply(ctx context.Context, cred upstream.Credential, key Key, cmd Command) (Outcome, error) {
	mu := s.lock(key)
	defer mu.Unlock()

	state, err := s.store.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}

	var next State
	switch cmd.Command {
	case CommandStart:
		next, err = state.Start()
	case CommandAnswer:
		next, err = state.Answer(cmd.DescriptorID, cmd.RatingID)
	case CommandNext:
		next, err = state.Next()
	case CommandPrevious:
		next, err = state.Previous()
	case CommandCancel:
		next, err = state.Cancel()
	case CommandSubmit:
		return s.submit(ctx, cred, state)
	default:
		return Outcome{State: state}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	if err != nil {
		return Outcome{State: state}, err
	}
	if err := s.save(ctx, &next); err != nil {
		return Outcome{State: state}, err
	}
	return Outcome{State: next}, nil
}

// submit posts the whole answer set once. Any failure other than a duplicate
// leaves the wizard on the confirmation step.
func (s *Service) submit(ctx context.Context, cred upstream.Credential, state State) (Outcome, error) {
	if err := state.ReadyToSubmit(); err != nil {
		return Outcome{State: state}, err
	}

	err := s.api.SubmitAnswers(ctx, cred, state.Batch())
	switch {
	case err == nil:
		done, cerr := state.Complete()
		if cerr != nil {
			return Outcome{State: state}, cerr
		}
		if err := s.save(ctx, &done); err != nil {
			return Outcome{State: done}, err
		}
		return Outcome{State: done, Message: state.Prompt().Guidance}, nil
	case upstream.IsDuplicate(err):
		done := state.with(Completed())
		if err := s.save(ctx, &done); err != nil {
			return Outcome{State: done}, err
		}
		return Outcome{
			State:    done,
			Redirect: done.FollowUpPath(),
			Message:  upstream.Message(err, "Las respuestas de esta evaluación ya fueron registradas"),
		}, ErrAlreadyRegistered
	default:
		return Outcome{State: state}, fmt.Errorf("submit answers: %w", err)
	}
}

func (s *Service) lock(key Key) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	mu := &s.locks[h.Sum32()%keyLocks]
	mu.Lock()
	return mu
}

func (s *Service) save(ctx context.Context, state *State) error {
	state.UpdatedAt = s.now()
	return s.store.Put(ctx, *state)
}

// View is the wizard as the SPA renders it.
type View struct {
	State    State                `json:"state"`
	Mode     Mode                 `json:"mode"`
	Current  *upstream.Competency `json:"current,omitempty"`
	IsLast   bool                 `json:"isLast"`
	Progress Progress             `json:"progress"`
	Prompt   Prompt               `json:"prompt"`
}

func (s State) View() View {
	v := View{
		State:    s,
		Mode:     s.Key.Mode(),
		Progress: s.Progress(),
		Prompt:   s.Prompt(),
	}
	if c, ok := s.CurrentCompetency(); ok {
		v.Current = &c
		v.IsLast = s.Phase.Page == len(s.Competencies)-1
	}
	return v
}

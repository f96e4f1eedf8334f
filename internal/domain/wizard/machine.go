package wizard

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"evalportal/internal/upstream"
)

// New starts a wizard. Evaluations that ship instructions open on the intro
// page; the rest go straight to the first competency.
func New(key Key, evaluation upstream.Evaluation, competencies []upstream.Competency, scale []upstream.Rating, now time.Time) (State, error) {
	if evaluation.Finished(now) {
		return State{}, ErrEvaluationFinished
	}
	if len(competencies) == 0 {
		return State{}, ErrNoCompetencies
	}
	phase := Answering(0)
	if strings.TrimSpace(evaluation.Instructions) != "" {
		phase = Intro()
	}
	return State{
		Key:          key,
		Phase:        phase,
		Evaluation:   evaluation,
		Competencies: competencies,
		Scale:        scale,
		Answers:      map[int64]int64{},
		UpdatedAt:    now,
	}, nil
}

func (s State) Start() (State, error) {
	if !s.Phase.Is(PhaseIntro) {
		return s, s.invalid(CommandStart)
	}
	return s.with(Answering(0)), nil
}

// Answer records a rating for a descriptor on the current page.
func (s State) Answer(descriptorID, ratingID int64) (State, error) {
	if !s.Phase.Is(PhaseAnswering) {
		return s, s.invalid(CommandAnswer)
	}
	if !s.onPage(s.Phase.Page, descriptorID) {
		return s, fmt.Errorf("%w: %d", ErrUnknownDescriptor, descriptorID)
	}
	if !s.inScale(ratingID) {
		return s, fmt.Errorf("%w: %d", ErrUnknownRating, ratingID)
	}
	next := s.with(s.Phase)
	next.Answers[descriptorID] = ratingID
	return next, nil
}

// Next advances when every descriptor on the current page is answered. From
// the last page it opens the submit confirmation.
func (s State) Next() (State, error) {
	if !s.Phase.Is(PhaseAnswering) {
		return s, s.invalid(CommandNext)
	}
	page := s.Phase.Page
	if missing := s.MissingOnPage(page); len(missing) > 0 {
		return s, &IncompleteError{Page: page, Missing: missing}
	}
	if page == len(s.Competencies)-1 {
		return s.with(ConfirmingSubmit()), nil
	}
	return s.with(Answering(page + 1)), nil
}

func (s State) Previous() (State, error) {
	if !s.Phase.Is(PhaseAnswering) || s.Phase.Page == 0 {
		return s, s.invalid(CommandPrevious)
	}
	return s.with(Answering(s.Phase.Page - 1)), nil
}

// Cancel closes the submit confirmation and returns to the last page.
func (s State) Cancel() (State, error) {
	if !s.Phase.Is(PhaseConfirmingSubmit) {
		return s, s.invalid(CommandCancel)
	}
	return s.with(Answering(len(s.Competencies) - 1)), nil
}

// ReadyToSubmit reports why the answer set may not be sent yet, if anything.
func (s State) ReadyToSubmit() error {
	if !s.Phase.Is(PhaseConfirmingSubmit) {
		return s.invalid(CommandSubmit)
	}
	for i := range s.Competencies {
		if missing := s.MissingOnPage(i); len(missing) > 0 {
			return &IncompleteError{Page: i, Missing: missing}
		}
	}
	return nil
}

// Complete marks the answers as registered.
func (s State) Complete() (State, error) {
	if err := s.ReadyToSubmit(); err != nil {
		return s, err
	}
	return s.with(Completed()), nil
}

// Batch is the submission payload, one entry per descriptor in page order.
func (s State) Batch() []upstream.Answer {
	out := make([]upstream.Answer, 0, len(s.Answers))
	for _, c := range s.Competencies {
		for _, d := range c.Descriptors {
			rating, ok := s.Answers[d.ID]
			if !ok {
				continue
			}
			out = append(out, upstream.Answer{
				DescriptorID:  d.ID,
				RatingID:      rating,
				EvaluationID:  s.Key.EvaluationID,
				ColaboradorID: s.Key.ColaboradorID,
				EvaluatorID:   s.Key.EvaluatorID,
			})
		}
	}
	return out
}

func (s State) PageComplete(page int) bool {
	return len(s.MissingOnPage(page)) == 0
}

func (s State) MissingOnPage(page int) []int64 {
	if page < 0 || page >= len(s.Competencies) {
		return nil
	}
	var missing []int64
	for _, d := range s.Competencies[page].Descriptors {
		if _, ok := s.Answers[d.ID]; !ok {
			missing = append(missing, d.ID)
		}
	}
	return missing
}

// CurrentCompetency is the competency shown while answering.
func (s State) CurrentCompetency() (upstream.Competency, bool) {
	if !s.Phase.Is(PhaseAnswering) || s.Phase.Page >= len(s.Competencies) {
		return upstream.Competency{}, false
	}
	return s.Competencies[s.Phase.Page], true
}

func (s State) Progress() Progress {
	p := Progress{Pages: make([]PageProgress, 0, len(s.Competencies))}
	for _, c := range s.Competencies {
		pp := PageProgress{CompetencyID: c.ID, Name: c.Name, Total: len(c.Descriptors)}
		for _, d := range c.Descriptors {
			if _, ok := s.Answers[d.ID]; ok {
				pp.Answered++
			}
		}
		pp.Complete = pp.Answered == pp.Total
		p.Answered += pp.Answered
		p.Total += pp.Total
		p.Pages = append(p.Pages, pp)
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Answered)/float64(p.Total)*10000) / 100
	}
	return p
}

func (s State) Prompt() Prompt {
	if s.Key.Mode() == ModeSelfAssessment {
		return Prompt{
			Title:    "Autoevaluación",
			Confirm:  "¿Confirma que desea enviar su autoevaluación? Una vez enviada no podrá modificarla.",
			Guidance: "Su autoevaluación fue registrada. A continuación deje su comentario general.",
		}
	}
	return Prompt{
		Title:    "Evaluación",
		Confirm:  "¿Confirma que desea enviar la evaluación del colaborador? Una vez enviada no podrá modificarla.",
		Guidance: "La evaluación fue registrada. A continuación registre la retroalimentación y las acciones de mejora.",
	}
}

// FollowUpPath is where a finished or duplicate submission continues.
func (s State) FollowUpPath() string {
	return FollowUpPath(s.Key)
}

func FollowUpPath(key Key) string {
	return "/seguimiento/" + key.ColaboradorID + "/" + strconv.FormatInt(key.EvaluationID, 10)
}

// Validate rejects stored states that no transition could have produced.
func (s State) Validate() error {
	switch s.Phase.Kind {
	case PhaseIntro, PhaseConfirmingSubmit:
	case PhaseAnswering:
		if s.Phase.Page < 0 || s.Phase.Page >= len(s.Competencies) {
			return fmt.Errorf("%w: page %d out of range", ErrInvalidTransition, s.Phase.Page)
		}
	case PhaseCompleted:
		if err := s.with(ConfirmingSubmit()).ReadyToSubmit(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, s.Phase.Kind)
	}
	if len(s.Competencies) == 0 {
		return ErrNoCompetencies
	}
	return nil
}

func (s State) with(phase Phase) State {
	next := s
	next.Phase = phase
	next.Answers = maps.Clone(s.Answers)
	if next.Answers == nil {
		next.Answers = map[int64]int64{}
	}
	return next
}

func (s State) invalid(command string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, command, s.Phase.Kind)
}

func (s State) onPage(page int, descriptorID int64) bool {
	if page < 0 || page >= len(s.Competencies) {
		return false
	}
	for _, d := range s.Competencies[page].Descriptors {
		if d.ID == descriptorID {
			return true
		}
	}
	return false
}

func (s State) inScale(ratingID int64) bool {
	for _, r := range s.Scale {
		if r.ID == ratingID {
			return true
		}
	}
	return false
}

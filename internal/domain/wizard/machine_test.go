package wizard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/upstream"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testEvaluation(instructions string) upstream.Evaluation {
	end, _ := upstream.ParseDate("2026-03-31")
	return upstream.Evaluation{ID: 7, Name: "Desempeño 2026", Active: true, EndDate: end, Instructions: instructions}
}

func testCompetencies() []upstream.Competency {
	return []upstream.Competency{
		{ID: 1, Name: "Liderazgo", Descriptors: []upstream.Descriptor{{ID: 11}, {ID: 12}}},
		{ID: 2, Name: "Comunicación", Descriptors: []upstream.Descriptor{{ID: 21}}},
	}
}

func testScale() []upstream.Rating {
	return []upstream.Rating{{ID: 1, Value: 1}, {ID: 2, Value: 2}, {ID: 3, Value: 3}, {ID: 4, Value: 4}, {ID: 5, Value: 5}}
}

var testKey = Key{EvaluationID: 7, EvaluatorID: "e1", ColaboradorID: "c1"}

func newState(t *testing.T, instructions string) State {
	t.Helper()
	s, err := New(testKey, testEvaluation(instructions), testCompetencies(), testScale(), testNow)
	require.NoError(t, err)
	return s
}

func TestNewPicksInitialPhase(t *testing.T) {
	assert.Equal(t, Intro(), newState(t, "Lea con atención").Phase)
	assert.Equal(t, Answering(0), newState(t, "").Phase)
}

func TestNewRejectsFinishedAndEmpty(t *testing.T) {
	_, err := New(testKey, testEvaluation(""), testCompetencies(), testScale(), time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrEvaluationFinished)

	inactive := testEvaluation("")
	inactive.Active = false
	_, err = New(testKey, inactive, testCompetencies(), testScale(), testNow)
	assert.ErrorIs(t, err, ErrEvaluationFinished)

	_, err = New(testKey, testEvaluation(""), nil, testScale(), testNow)
	assert.ErrorIs(t, err, ErrNoCompetencies)
}

func TestNextBlockedUntilPageComplete(t *testing.T) {
	s := newState(t, "")

	_, err := s.Next()
	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.ErrorIs(t, err, ErrPageIncomplete)
	assert.Equal(t, []int64{11, 12}, incomplete.Missing)

	s, err = s.Answer(11, 4)
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrPageIncomplete)

	s, err = s.Answer(12, 2)
	require.NoError(t, err)
	s, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Answering(1), s.Phase)
}

func TestAnswerValidatesPageAndScale(t *testing.T) {
	s := newState(t, "")
	_, err := s.Answer(21, 3)
	assert.ErrorIs(t, err, ErrUnknownDescriptor)
	_, err = s.Answer(11, 9)
	assert.ErrorIs(t, err, ErrUnknownRating)

	intro := newState(t, "x")
	_, err = intro.Answer(11, 3)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionsArePure(t *testing.T) {
	s := newState(t, "")
	answered, err := s.Answer(11, 5)
	require.NoError(t, err)
	assert.Empty(t, s.Answers)
	assert.Equal(t, int64(5), answered.Answers[11])
}

func TestFullWalkthrough(t *testing.T) {
	s := newState(t, "instrucciones")
	var err error

	_, err = s.Previous()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	s, err = s.Start()
	require.NoError(t, err)
	_, err = s.Previous()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	s, _ = s.Answer(11, 3)
	s, _ = s.Answer(12, 4)
	s, err = s.Next()
	require.NoError(t, err)

	s, err = s.Previous()
	require.NoError(t, err)
	assert.Equal(t, Answering(0), s.Phase)
	s, _ = s.Next()

	s, _ = s.Answer(21, 5)
	s, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, ConfirmingSubmit(), s.Phase)

	s, err = s.Cancel()
	require.NoError(t, err)
	assert.Equal(t, Answering(1), s.Phase)

	s, _ = s.Next()
	require.NoError(t, s.ReadyToSubmit())
	batch := s.Batch()
	require.Len(t, batch, 3)
	assert.Equal(t, upstream.Answer{DescriptorID: 11, RatingID: 3, EvaluationID: 7, ColaboradorID: "c1", EvaluatorID: "e1"}, batch[0])
	assert.Equal(t, int64(21), batch[2].DescriptorID)

	done, err := s.Complete()
	require.NoError(t, err)
	assert.Equal(t, Completed(), done.Phase)
	_, err = done.Next()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteRequiresConfirmation(t *testing.T) {
	s := newState(t, "")
	_, err := s.Complete()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProgress(t *testing.T) {
	s := newState(t, "")
	s, _ = s.Answer(11, 1)
	p := s.Progress()
	assert.Equal(t, 1, p.Answered)
	assert.Equal(t, 3, p.Total)
	assert.InDelta(t, 33.33, p.Percent, 0.01)
	assert.False(t, p.Pages[0].Complete)
}

func TestModeAndPrompt(t *testing.T) {
	assert.Equal(t, ModeEvaluation, testKey.Mode())
	self := Key{EvaluationID: 1, EvaluatorID: "c1", ColaboradorID: "c1"}
	assert.Equal(t, ModeSelfAssessment, self.Mode())

	s := newState(t, "")
	selfState := s
	selfState.Key = self
	assert.NotEqual(t, s.Prompt().Confirm, selfState.Prompt().Confirm)
	assert.Equal(t, "/seguimiento/c1/7", s.FollowUpPath())
}

func TestValidateRejectsImpossibleStates(t *testing.T) {
	s := newState(t, "")
	s.Phase = Answering(5)
	assert.Error(t, s.Validate())

	s.Phase = Completed()
	assert.ErrorIs(t, s.Validate(), ErrPageIncomplete)

	s.Phase = Phase{Kind: "bogus"}
	assert.Error(t, s.Validate())
}

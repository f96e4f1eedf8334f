package followup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/upstream"
)

func due(t *testing.T) upstream.Date {
	t.Helper()
	d, err := upstream.ParseDate("2026-12-01")
	require.NoError(t, err)
	return d
}

func validAction(t *testing.T, competencyID int64) Action {
	return Action{CompetencyID: competencyID, Description: "Curso de liderazgo", Status: StatusNotStarted, DueDate: due(t)}
}

func TestAveragesAndEligible(t *testing.T) {
	results := []upstream.Result{
		{CompetencyID: 2, Competency: "Comunicación", Value: 3},
		{CompetencyID: 2, Competency: "Comunicación", Value: 3.5},
		{CompetencyID: 1, Competency: "Liderazgo", Value: 5},
		{CompetencyID: 3, Competency: "Trabajo en equipo", Value: 3.4},
		{CompetencyID: 4, Competency: "Orientación", Value: 1},
	}
	avg := Averages(results)
	assert.InDelta(t, 3.25, avg[2], 1e-9)
	assert.Equal(t, []int64{2, 4}, Eligible(avg, Threshold))

	scores := Scores(results, Threshold)
	require.Len(t, scores, 2)
	assert.Equal(t, "Comunicación", scores[0].Name)
	assert.Equal(t, int64(4), scores[1].CompetencyID)
}

func TestLimits(t *testing.T) {
	assert.Equal(t, Limits{Min: 0, Max: 0}, LimitsFor(0))
	assert.Equal(t, Limits{Min: 1, Max: 1}, LimitsFor(1))
	assert.Equal(t, Limits{Min: 1, Max: 2}, LimitsFor(2))
	assert.Equal(t, Limits{Min: 1, Max: 3}, LimitsFor(5))

	assert.True(t, CanAddAction(1, 2))
	assert.False(t, CanAddAction(2, 2))
	assert.False(t, CanAddAction(3, 6))
	assert.False(t, CanAddAction(0, 0))
}

func TestValidateEvaluatorNoEligibleAcceptsEmptyList(t *testing.T) {
	err := ValidateEvaluator(Form{Comment: "Buen desempeño", Confirmed: true}, nil)
	assert.NoError(t, err)
}

func TestValidateEvaluatorTwoEligibleNeedsAnAction(t *testing.T) {
	err := ValidateEvaluator(Form{Comment: "Mejorar", Confirmed: true}, []int64{2, 4})
	require.ErrorIs(t, err, ErrInvalid)
	verr, ok := IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "actions", verr.Issues[0].Field)

	err = ValidateEvaluator(Form{Comment: "Mejorar", Confirmed: true, Actions: []Action{validAction(t, 2)}}, []int64{2, 4})
	assert.NoError(t, err)
}

func TestValidateEvaluatorRequiresConfirmationAndComment(t *testing.T) {
	err := ValidateEvaluator(Form{Comment: "   "}, nil)
	verr, ok := IsValidation(err)
	require.True(t, ok)
	fields := []string{}
	for _, issue := range verr.Issues {
		fields = append(fields, issue.Field)
	}
	assert.ElementsMatch(t, []string{"comment", "confirmed"}, fields)
}

func TestValidateEvaluatorChecksEachAction(t *testing.T) {
	bad := Action{CompetencyID: 9, Status: "Pendiente"}
	err := ValidateEvaluator(Form{Comment: "x", Confirmed: true, Actions: []Action{bad}}, []int64{2})
	verr, ok := IsValidation(err)
	require.True(t, ok)
	fields := map[string]bool{}
	for _, issue := range verr.Issues {
		fields[issue.Field] = true
	}
	assert.True(t, fields["actions[0].description"])
	assert.True(t, fields["actions[0].status"])
	assert.True(t, fields["actions[0].dueDate"])
	assert.True(t, fields["actions[0].competencyId"])
}

func TestValidateEvaluatorCapsActions(t *testing.T) {
	actions := []Action{validAction(t, 1), validAction(t, 2), validAction(t, 3), validAction(t, 4)}
	err := ValidateEvaluator(Form{Comment: "x", Confirmed: true, Actions: actions}, []int64{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateSelf(t *testing.T) {
	assert.NoError(t, ValidateSelf(Form{Comment: "Mi año"}))
	assert.ErrorIs(t, ValidateSelf(Form{}), ErrInvalid)
	assert.ErrorIs(t, ValidateSelf(Form{Comment: "x", Actions: []Action{validAction(t, 1)}}), ErrInvalid)
}

func TestValidateFollowUp(t *testing.T) {
	cases := []struct {
		confirmed    bool
		competencies int
		actions      int
		want         bool
	}{
		{true, 0, 0, true},
		{true, 2, 2, true},
		{true, 2, 1, false},
		{true, 3, 3, true},
		{true, 5, 3, true},
		{true, 5, 4, true},
		{true, 5, 2, false},
		{false, 2, 2, false},
	}
	for _, tc := range cases {
		got := ValidateFollowUp(tc.confirmed, tc.competencies, tc.actions)
		assert.Equal(t, tc.want, got, "confirmed=%v competencies=%d actions=%d", tc.confirmed, tc.competencies, tc.actions)
	}
}

func TestCanDeleteAction(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, CanDeleteAction(created, created.Add(5*24*time.Hour)))
	assert.True(t, CanDeleteAction(created, created.Add(DeleteWindow)))
	assert.False(t, CanDeleteAction(created, created.Add(DeleteWindow+time.Minute)))
	assert.True(t, CanDeleteAction(time.Time{}, created))
}

func TestActionStatus(t *testing.T) {
	assert.True(t, StatusInProgress.Valid())
	assert.False(t, ActionStatus("Cancelado").Valid())
}

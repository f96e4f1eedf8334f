package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/upstream"
)

type fakeCollaboratorAPI struct {
	calls int
	list  map[string][]upstream.Collaborator
}

func (f *fakeCollaboratorAPI) Collaborators(_ context.Context, _ upstream.Credential, evaluatorID string) ([]upstream.Collaborator, error) {
	f.calls++
	return f.list[evaluatorID], nil
}

func evaluator(id string) Identity {
	return Identity{User: upstream.User{Document: id, ProfileID: int(ProfileEvaluador)}}
}

func TestDirectoryRequiresExplicitLoad(t *testing.T) {
	api := &fakeCollaboratorAPI{list: map[string][]upstream.Collaborator{"e1": {{Document: "c1"}}}}
	dir := NewDirectory(api, 0)

	assert.Equal(t, NotLoaded, dir.State("e1"))
	_, err := dir.Collaborators("e1")
	assert.ErrorIs(t, err, ErrCollaboratorsNotLoaded)

	list, err := dir.Load(context.Background(), evaluator("e1"))
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, Loaded, dir.State("e1"))

	dir.Invalidate("e1")
	assert.Equal(t, NotLoaded, dir.State("e1"))
}

func TestDirectoryEnsureLoadsOnce(t *testing.T) {
	api := &fakeCollaboratorAPI{}
	dir := NewDirectory(api, time.Hour)

	list, err := dir.Ensure(context.Background(), evaluator("e1"))
	require.NoError(t, err)
	assert.NotNil(t, list)
	_, err = dir.Ensure(context.Background(), evaluator("e1"))
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls)
}

func TestDirectoryExpires(t *testing.T) {
	api := &fakeCollaboratorAPI{}
	dir := NewDirectory(api, time.Minute)
	now := time.Now()
	dir.now = func() time.Time { return now }
	_, err := dir.Load(context.Background(), evaluator("e1"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, NotLoaded, dir.State("e1"))
}

func TestAuthorizeEvaluation(t *testing.T) {
	api := &fakeCollaboratorAPI{list: map[string][]upstream.Collaborator{"e1": {{Document: "c1"}}}}
	dir := NewDirectory(api, 0)
	ctx := context.Background()

	assert.NoError(t, AuthorizeEvaluation(ctx, dir, evaluator("e1"), "c1"))
	assert.NoError(t, AuthorizeEvaluation(ctx, dir, evaluator("e1"), "e1"))
	assert.ErrorIs(t, AuthorizeEvaluation(ctx, dir, evaluator("e1"), "c2"), ErrNotYourCollaborator)

	colaborador := Identity{User: upstream.User{Document: "c1", ProfileID: int(ProfileColaborador)}}
	assert.NoError(t, AuthorizeEvaluation(ctx, dir, colaborador, "c1"))
	assert.ErrorIs(t, AuthorizeEvaluation(ctx, dir, colaborador, "c2"), ErrNotYourCollaborator)

	admin := Identity{User: upstream.User{Document: "a", ProfileID: int(ProfileAdmin)}}
	assert.NoError(t, AuthorizeEvaluation(ctx, dir, admin, "anyone"))
}

package session

import (
	"context"
	"errors"
)

var ErrNotYourCollaborator = errors.New("colaborador is not assigned to this evaluator")

// AuthorizeEvaluation decides whether identity may evaluate or follow up on
// colaboradorID: a colaborador only themselves, an evaluator themselves or
// one of their collaborators, an admin anyone.
func AuthorizeEvaluation(ctx context.Context, dir *Directory, identity Identity, colaboradorID string) error {
	if identity.ID() == colaboradorID || identity.IsAdmin() {
		return nil
	}
	if identity.Profile() != ProfileEvaluador {
		return ErrNotYourCollaborator
	}
	if _, err := dir.Ensure(ctx, identity); err != nil {
		return err
	}
	ok, err := dir.HasCollaborator(identity.ID(), colaboradorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotYourCollaborator
	}
	return nil
}

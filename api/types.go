package api

import (
	"context"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// Storage abstracts persistence for handlers. List reads serve both the REST
// endpoints and the stream sessions' bulk loads.
type Storage interface {
	ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error)
	ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error)
	ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error)
	ListPosts(ctx context.Context) ([]domain.BlogPost, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Authenticator is implemented by types able to extract identities from
// Authorization headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (Identity, error)
}

// Completer is the text-generation collaborator behind the assist panel.
type Completer interface {
	Complete(ctx context.Context, feature, prompt string) (string, error)
}

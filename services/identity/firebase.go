package identitysvc

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/eloschool/backend/core/access"
)

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseProvider verifies Firebase Auth ID tokens.
type FirebaseProvider struct {
	verifier tokenVerifier
}

var _ access.IdentityProvider = (*FirebaseProvider)(nil)

func NewFirebaseProvider(ctx context.Context, projectID, credentialsFile string) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initializing firebase app")
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initializing auth client")
	}
	return &FirebaseProvider{verifier: client}, nil
}

func (p *FirebaseProvider) Verify(ctx context.Context, token string) (access.Identity, error) {
	if token == "" {
		return access.Identity{}, access.ErrInvalidToken
	}
	tok, err := p.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return access.Identity{}, errors.WithMessage(access.ErrInvalidToken, err.Error())
	}
	id := access.Identity{UID: tok.UID}
	id.Email, _ = tok.Claims["email"].(string)
	id.DisplayName, _ = tok.Claims["name"].(string)
	return id, nil
}

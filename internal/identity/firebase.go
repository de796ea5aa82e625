package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// FirebaseProvider implements Provider on the Firebase Admin SDK.
// Credentials are resolved from GOOGLE_APPLICATION_CREDENTIALS.
type FirebaseProvider struct {
	client *auth.Client
}

// NewFirebaseProvider initialises the Firebase app and auth client.
func NewFirebaseProvider(ctx context.Context, projectID string) (*FirebaseProvider, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth client: %w", err)
	}
	return &FirebaseProvider{client: client}, nil
}

func (f *FirebaseProvider) VerifyToken(ctx context.Context, token string) (*Principal, error) {
	decoded, err := f.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalFromToken(decoded), nil
}

// principalFromToken narrows the loosely-typed claim bag into a Principal.
func principalFromToken(tok *auth.Token) *Principal {
	p := &Principal{
		ExternalID: tok.UID,
		Claims:     tok.Claims,
	}
	if s, ok := tok.Claims["email"].(string); ok {
		p.Email = s
	}
	if b, ok := tok.Claims["email_verified"].(bool); ok {
		p.EmailVerified = b
	}
	if s, ok := tok.Claims["name"].(string); ok {
		p.Name = s
	}
	if s, ok := tok.Claims["picture"].(string); ok {
		p.Picture = s
	}
	return p
}

func (f *FirebaseProvider) GetClaims(ctx context.Context, externalID string) (map[string]interface{}, error) {
	user, err := f.client.GetUser(ctx, externalID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return user.CustomClaims, nil
}

func (f *FirebaseProvider) SetClaims(ctx context.Context, externalID string, claims map[string]interface{}) error {
	if err := f.client.SetCustomUserClaims(ctx, externalID, claims); err != nil {
		if auth.IsUserNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func (f *FirebaseProvider) DeleteUser(ctx context.Context, externalID string) error {
	if err := f.client.DeleteUser(ctx, externalID); err != nil {
		if auth.IsUserNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

var _ Provider = (*FirebaseProvider)(nil)

package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrPushUnauthorized rejects push requests without a valid Pub/Sub OIDC token.
var ErrPushUnauthorized = errors.New("push request is not authenticated")

// PushVerifier authenticates a push request from its Authorization header.
type PushVerifier interface {
	Verify(ctx context.Context, authorization string) error
}

// TokenValidator checks an ID token's signature, expiry and audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// OIDCVerifier accepts Pub/Sub push requests signed by Google for the
// configured audience and, when set, the configured service account.
type OIDCVerifier struct {
	audience       string
	serviceAccount string
	validate       TokenValidator
}

func NewOIDCVerifier(audience, serviceAccount string, validate TokenValidator) *OIDCVerifier {
	return &OIDCVerifier{
		audience:       audience,
		serviceAccount: serviceAccount,
		validate:       validate,
	}
}

// NewGoogleValidator validates tokens against Google's published signing keys.
func NewGoogleValidator(ctx context.Context) (TokenValidator, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create id token validator: %w", err)
	}
	return v.Validate, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, authorization string) error {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing bearer token", ErrPushUnauthorized)
	}

	payload, err := v.validate(ctx, strings.TrimSpace(token), v.audience)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushUnauthorized, err)
	}
	if v.serviceAccount == "" {
		return nil
	}
	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if !verified || !strings.EqualFold(email, v.serviceAccount) {
		return fmt.Errorf("%w: unexpected signer %q", ErrPushUnauthorized, email)
	}
	return nil
}

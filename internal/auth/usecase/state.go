package usecase

import (
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/pkg/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	stateKeyLabel = "oauth-state"
	stateTTL      = 10 * time.Minute
)

// stateClaims binds an OAuth state value to the provider it was issued for.
type stateClaims struct {
	Provider authdomain.Provider `json:"provider"`
	jwt.RegisteredClaims
}

func (u *authUsecase) signState(provider authdomain.Provider) (string, error) {
	now := time.Now()
	claims := stateClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.stateKey)
}

func (u *authUsecase) VerifyState(provider authdomain.Provider, state string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		return u.stateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid oauth state", err)
	}
	if claims.Provider != provider {
		return apperr.New(apperr.KindBadRequest, "oauth state was issued for another provider")
	}
	return nil
}

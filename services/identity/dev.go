package identitysvc

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/core/access"
)

var nowFunc = time.Now // mockable

// DevClaims are the claims of a dev ID token, shaped like Firebase's.
type DevClaims struct {
	jwt.StandardClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// DevProvider mints and verifies HS256 ID tokens signed with the app secret.
// It stands in for Firebase Auth in dev and tests.
type DevProvider struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

var _ access.IdentityProvider = (*DevProvider)(nil)

func NewDevProvider(secretKey, issuer string, ttl time.Duration) *DevProvider {
	return &DevProvider{key: []byte(secretKey), issuer: issuer, ttl: ttl}
}

func (p *DevProvider) Mint(id access.Identity) (string, error) {
	if id.UID == "" {
		return "", errors.New("minting token: uid required")
	}
	now := nowFunc()
	claims := DevClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    p.issuer,
			Subject:   id.UID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(p.ttl).Unix(),
		},
		Email: id.Email,
		Name:  id.DisplayName,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (p *DevProvider) Verify(_ context.Context, token string) (access.Identity, error) {
	if token == "" {
		return access.Identity{}, access.ErrInvalidToken
	}
	claims := new(DevClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.key, nil
	})
	if err != nil {
		return access.Identity{}, errors.WithMessage(access.ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" || (p.issuer != "" && claims.Issuer != p.issuer) {
		return access.Identity{}, access.ErrInvalidToken
	}
	return access.Identity{UID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

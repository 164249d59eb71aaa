package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenConfig signs and validates identity tokens.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenPair holds access and refresh tokens. RefreshToken is empty when the
// login did not ask to be remembered.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessExp    time.Time `json:"-"`
	RefreshExp   time.Time `json:"-"`
}

// Claims represents JWT payload.
type Claims struct {
	Username string `json:"username"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

// Issue issues a signed access token for the user, plus a refresh token
// when remember is set.
func (tc TokenConfig) Issue(usr User, remember bool) (TokenPair, error) {
	now := time.Now()
	pair := TokenPair{AccessExp: now.Add(tc.AccessTTL)}

	var err error
	pair.AccessToken, err = tc.sign(usr, kindAccess, now, pair.AccessExp)
	if err != nil {
		return TokenPair{}, err
	}
	if remember {
		pair.RefreshExp = now.Add(tc.RefreshTTL)
		pair.RefreshToken, err = tc.sign(usr, kindRefresh, now, pair.RefreshExp)
		if err != nil {
			return TokenPair{}, err
		}
	}
	return pair, nil
}

func (tc TokenConfig) sign(usr User, kind string, now, exp time.Time) (string, error) {
	claims := Claims{
		Username: usr.Username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.Issuer,
			Subject:   usr.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.SigningKey))
}

// Parse validates a token and returns claims.
func (tc TokenConfig) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(tc.SigningKey), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if tc.Issuer != "" && claims.Issuer != tc.Issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}
	return *claims, nil
}

// Refresh exchanges a refresh token for a new pair.
func (tc TokenConfig) Refresh(refreshToken string) (Claims, TokenPair, error) {
	claims, err := tc.Parse(refreshToken)
	if err != nil {
		return Claims{}, TokenPair{}, err
	}
	if claims.Kind != kindRefresh {
		return Claims{}, TokenPair{}, errors.New("not a refresh token")
	}
	pair, err := tc.Issue(User{ID: claims.Subject, Username: claims.Username}, true)
	return claims, pair, err
}

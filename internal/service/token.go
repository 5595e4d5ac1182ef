package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrInvalidSubject = errors.New("invalid token subject")
)

// TokenCodec signs and verifies self-contained HS512 tokens binding a user id
// and an expiry. It holds a single secret; the access and refresh codecs are
// distinct instances so one kind of token can never be verified as the other.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenCodec(secret []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, ttl: ttl}
}

func (c *TokenCodec) TTL() time.Duration { return c.ttl }

type jwtClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Sign mints a token for userID expiring ttl from now. The JTI keeps two
// tokens minted for the same subject in the same second distinct, which is
// what lets concurrent issuance insert two unique session rows.
func (c *TokenCodec) Sign(userID int64, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(c.ttl)
	claims := &jwtClaims{
		UserID: strconv.FormatInt(userID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signedToken, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signed string: %w", err)
	}

	return signedToken, expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded user id.
// Expiry is strict: a token whose expiry equals the current instant is
// already expired. Callers must collapse every returned error into a single
// unauthorized outcome.
func (c *TokenCodec) Verify(token string, now time.Time) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}

	parsedToken, err := jwt.ParseWithClaims(
		token,
		&jwtClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		opts...,
	)
	if err != nil {
		return 0, classifyJWTError(err)
	}

	claims, ok := parsedToken.Claims.(*jwtClaims)
	if !ok || claims.UserID == "" {
		return 0, ErrTokenMalformed
	}
	if !claims.ExpiresAt.Time.After(now) {
		return 0, ErrTokenExpired
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return 0, ErrInvalidSubject
	}

	return userID, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}

// Package capability issues and verifies signed, time-limited tokens that
// grant access to a single task resource or email attachment without a
// session.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Salts separate token families signed with the same server secret.
const (
	TaskSalt       = "task-resource"
	AttachmentSalt = "email-attachment"
)

// Claims carry either TaskID, or UserEmail with an optional ProjectID.
// Short JSON names keep task tokens under common.TaskSignatureMaxSize.
type Claims struct {
	TaskID    int64  `json:"tid,omitempty"`
	ProjectID int64  `json:"pid,omitempty"`
	UserEmail string `json:"eml,omitempty"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Claims
}

// Signer is the capability token primitive.
type Signer interface {
	Sign(claims Claims, salt string) (string, error)
	Verify(token string, maxAge time.Duration, salt string) (Claims, error)
}

// JWTSigner signs HS256 JWTs. Expiry is not baked into the token: the
// verifier enforces a caller-supplied max-age against the issue time.
type JWTSigner struct {
	secret []byte
	now    func() time.Time
}

func NewJWTSigner(secret string) *JWTSigner {
	return NewJWTSignerWithClock(secret, time.Now)
}

// NewJWTSignerWithClock is NewJWTSigner with an explicit time source.
func NewJWTSignerWithClock(secret string, now func() time.Time) *JWTSigner {
	return &JWTSigner{secret: []byte(secret), now: now}
}

func (s *JWTSigner) key(salt string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(salt))
	return mac.Sum(nil)
}

// Sign issues a token for claims, stamped with the current time.
func (s *JWTSigner) Sign(claims Claims, salt string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Claims: claims,
	})
	// alg is the only header the verifier needs
	delete(token.Header, "typ")

	return token.SignedString(s.key(salt))
}

// Verify checks the signature and that the token is not older than maxAge.
// It returns common.ErrTokenExpired for stale tokens and
// common.ErrInvalidToken for everything else.
func (s *JWTSigner) Verify(tokenString string, maxAge time.Duration, salt string) (Claims, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key(salt), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithIssuedAt())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, common.ErrInvalidToken
	}

	if claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: missing issue time", common.ErrInvalidToken)
	}
	if s.now().Sub(claims.IssuedAt.Time) > maxAge {
		return Claims{}, common.ErrTokenExpired
	}

	return claims.Claims, nil
}

// IsAuthError reports whether err came from token verification.
func IsAuthError(err error) bool {
	return errors.Is(err, common.ErrInvalidToken) || errors.Is(err, common.ErrTokenExpired)
}

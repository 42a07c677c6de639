// Package auth issues and reads session tokens identifying the requester.
// Session management itself belongs to the surrounding platform; this
// package only needs enough of it to know who is asking.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims: стандартные утверждения плюс данные пользователя.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	Email    string `json:"email"`
	Admin    bool   `json:"admin,omitempty"`
	Subadmin bool   `json:"subadmin,omitempty"`
}

func GenerateToken(user models.User, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID:   user.ID,
		Email:    user.Email,
		Admin:    user.Admin,
		Subadmin: user.Subadmin,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func GetUserFromToken(tokenString string, secretKey []byte) (*models.User, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return &models.User{
		ID:       claims.UserID,
		Email:    claims.Email,
		Admin:    claims.Admin,
		Subadmin: claims.Subadmin,
	}, nil
}

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Callback tokens authenticate posts from the render service. The token is
// minted at submit time, embedded in the callback URL, and checked against
// the project it was issued for. Lifetime is generous because long renders
// are normal.
const callbackTokenTTL = 24 * time.Hour

type callbackClaims struct {
	JobID string `json:"job_id"`
	jwt.RegisteredClaims
}

func SignCallbackToken(secret, projectID, jobID string, now time.Time) (string, error) {
	claims := callbackClaims{
		JobID: jobID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   projectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(callbackTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyCallbackToken checks the signature, expiry, and that the token was
// issued for the given project.
func VerifyCallbackToken(secret, tokenString, projectID string) error {
	claims := &callbackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid callback token")
	}
	if claims.Subject != projectID {
		return errors.New("callback token issued for a different project")
	}
	return nil
}

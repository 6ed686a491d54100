package api

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// identityTokenHeader carries the optional signed identity token on message
// submissions.
const identityTokenHeader = "X-Identity-Token"

const identityTokenTTL = 24 * time.Hour

// reservedUsernames cannot be claimed by anonymous identities.
var reservedUsernames = []string{"admin", "administrator", "system", "moderator"}

func isReservedUsername(name string) bool {
	return slices.Contains(reservedUsernames, strings.ToLower(name))
}

// issueIdentityToken signs a short-lived token binding this user id. Only
// called when a signing key is configured.
func (app *AnonChatApp) issueIdentityToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(identityTokenTTL).Unix(),
	})

	return token.SignedString(app.signingKey)
}

// verifyIdentityToken checks the token's signature and that it was issued
// for userID.
func (app *AnonChatApp) verifyIdentityToken(tokenString, userID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.StandardClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return app.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse identity token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.StandardClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid identity token")
	}
	if claims.Subject != userID {
		return fmt.Errorf("identity token subject mismatch")
	}
	return nil
}

// authorizeIdentity is the auth gate in front of the message accept path:
// reserved-name rejection always, signature verification when a signing key
// is configured and the client presented a token.
func (app *AnonChatApp) authorizeIdentity(userID, userName, tokenString string) *ApiError {
	if isReservedUsername(userName) {
		return NewForbiddenError("this username is reserved")
	}

	if len(app.signingKey) > 0 && tokenString != "" {
		if err := app.verifyIdentityToken(tokenString, userID); err != nil {
			app.log.Debug().Err(err).Str("user", userID).Msg("identity token rejected")
			return NewForbiddenError("invalid identity token")
		}
	}
	return nil
}

package wishsync

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims of an access token that the client itself
// cares about. The token is parsed unverified: verification is the server's
// job, the client only needs the identity for rendering and logging.
type AccessClaims struct {
	UserId    Id
	TokenType string
}

func ParseAccessClaimsUnverified(accessToken string) (*AccessClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	accessClaims := &AccessClaims{}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("access token missing sub claim")
	}
	userId, err := ParseId(sub)
	if err != nil {
		return nil, err
	}
	accessClaims.UserId = userId

	if tokenType, ok := claims["type"].(string); ok {
		accessClaims.TokenType = tokenType
	}

	return accessClaims, nil
}

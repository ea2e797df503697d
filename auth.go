package listsync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// ChannelAuth carries the access token attached to channel dials and api
// calls. the token is opaque to this client; when it happens to be a JWT
// the claims are probed (unverified, verification is the server's job)
// so that logs can be correlated to a token and client id.
type ChannelAuth struct {
	ByToken string
}

type ByToken struct {
	TokenId  Id
	ClientId Id
	Label    string
}

func ParseByTokenUnverified(token string) (*ByToken, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	byToken := &ByToken{}

	if tokenIdStr, ok := claims["token_id"].(string); ok {
		if tokenId, err := ParseId(tokenIdStr); err == nil {
			byToken.TokenId = tokenId
		}
	}
	if clientIdStr, ok := claims["client_id"].(string); ok {
		if clientId, err := ParseId(clientIdStr); err == nil {
			byToken.ClientId = clientId
		}
	}
	if label, ok := claims["label"].(string); ok {
		byToken.Label = label
	}

	return byToken, nil
}

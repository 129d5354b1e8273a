package auth

// HTTP header constants
const (
	// AuthorizationHeader carries the bearer token.
	AuthorizationHeader = "Authorization"

	// BearerPrefix precedes the token in AuthorizationHeader.
	BearerPrefix = "Bearer "
)

// Token constants
const (
	// TokenIssuer is written to and required in the iss claim.
	TokenIssuer = "apexcoding"
)

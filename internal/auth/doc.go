// Package auth guards the admin HTTP API with HS256 bearer tokens.
//
// Tokens are minted by "scanbot token" from auth.jwt_secret and carry the
// operator name in the "sub" claim and the "scanbot:admin" scope. When no
// secret is configured the admin API is left open, which suits a bot bound
// to localhost or a tailnet.
package auth

// Package auth provides token authentication for panorama's MCP exposure.
//
// # JWT Tokens
//
// External agents authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret (at least 32 bytes):
//
//	Authorization: Bearer <token>
//
// Tokens carry the subject in "sub" and the granted capabilities in "caps".
// "read" exposes read-only tools; "write" additionally exposes tools that
// modify the workspace.
//
//	v, err := auth.NewJWTVerifier(secret)
//	token, err := v.Generate("laptop", []string{"read"}, 24*time.Hour)
//	claims, err := v.Verify(token)
//
// Tokens are minted with `panorama token`.
package auth

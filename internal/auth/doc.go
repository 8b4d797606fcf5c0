// Package auth issues and validates the bearer tokens of the script monitor
// API.
//
// Tokens are HS256 JWTs signed with the shared api.jwt_secret. They carry a
// subject (who the token was issued to) and a scope. The monitor is
// read-only, so "monitor" is the only scope a token grants today.
package auth

// Package auth provides bearer-token authentication for HTTP handlers.
//
// Tokens are verified against the issuer's rotating public key set: the JWKS
// document is cached in memory and refreshed lazily when a token references
// an unknown key id. The request-level gate (Middleware) extracts the token
// from the Authorization header, verifies it, and attaches the resulting
// Identity to the request context for downstream handlers. The gate makes no
// authorization decisions.
//
// All verification failures collapse to a generic 401 response; the concrete
// cause (bad signature, expiry, issuer mismatch, key set unavailable) is
// logged server-side only.
package auth

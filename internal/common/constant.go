package common

// AccessTokenHeaderName is the gRPC metadata key carrying the bearer
// credential on inbound calls.
const AccessTokenHeaderName = "access_token"

// AnonymousKey is the rate-limit key used when a caller presents no
// credential.
const AnonymousKey = "anonymous"

// SessionCookieName carries the signed session used by token management.
const SessionCookieName = "codetime_session"

package common

// AccessTokenHeaderName is the HTTP header (and cookie) carrying the
// session access token.
const AccessTokenHeaderName = "access_token"

// TaskSignatureParam is the query parameter carrying a capability token
// on file-proxy requests.
const TaskSignatureParam = "task-signature"

// TaskSignatureMaxSize caps the signature length accepted before any
// cryptographic work happens.
const TaskSignatureMaxSize = 128

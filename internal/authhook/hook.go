// Package authhook resolves a username for a newly connected socket before
// ChatService calls StateStore.LoginUser. Two implementations are provided:
// QueryParamHook, the spec's default (§6 "Authentication"), and
// CredentialHook, an optional password+TOTP variant grounded on the
// teacher's auth.AuthService, layered on top of an HTTP login endpoint
// since the socket handshake itself carries only query parameters.
package authhook

import (
	"context"

	"chatcore/internal/chaterr"
	"chatcore/internal/validate"
)

// Hook resolves the authenticated username for a new socket from the
// handshake query parameters Transport parsed out of the connect request.
// A non-nil error causes ChatService to emit loginRejected and disconnect,
// matching noLogin (§4.8).
type Hook interface {
	Resolve(ctx context.Context, query map[string]string) (username string, err error)
}

// QueryParamHook is the spec's default: the username is taken verbatim
// from the handshake's "user" query parameter and validated against the
// admissible character set (§6).
type QueryParamHook struct{}

// Resolve implements Hook.
func (QueryParamHook) Resolve(_ context.Context, query map[string]string) (string, error) {
	username, ok := query["user"]
	if !ok || username == "" {
		return "", chaterr.New(chaterr.NoLogin)
	}
	if err := validate.Name(username); err != nil {
		return "", chaterr.New(chaterr.NoLogin)
	}
	return username, nil
}

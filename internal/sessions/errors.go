package sessions

import "errors"

// ErrNotSessionOwner covers both a session that does not exist and a session
// owned by someone else. The two are indistinguishable on purpose: a caller
// probing foreign session ids must not learn which ones exist.
var ErrNotSessionOwner = errors.New("session not found")

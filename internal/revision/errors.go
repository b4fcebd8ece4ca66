package revision

import (
	"errors"
	"fmt"
)

// ErrSyncTokenInvalid is matched by errors for tokens whose revision has
// been pruned. The client must discard the token and resync from scratch.
var ErrSyncTokenInvalid = errors.New("sync token invalid")

// TokenError describes a token that cannot be honored.
type TokenError struct {
	// Token is the presented token, if the caller had one.
	Token string

	// Revision is the revision the token resolved to.
	Revision int64

	// Floor is the server's minimum valid revision.
	Floor int64
}

func (e *TokenError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("sync token %q invalid: revision %d below minimum %d", e.Token, e.Revision, e.Floor)
	}
	return fmt.Sprintf("sync token invalid: revision %d below minimum %d", e.Revision, e.Floor)
}

// Is makes errors.Is(err, ErrSyncTokenInvalid) match.
func (e *TokenError) Is(target error) bool {
	return target == ErrSyncTokenInvalid
}

// IsSyncTokenInvalid reports whether err is a pruned-token failure.
func IsSyncTokenInvalid(err error) bool {
	return errors.Is(err, ErrSyncTokenInvalid)
}

// MalformedTokenError reports a token that does not parse.
type MalformedTokenError struct {
	Token string
	Err   error
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("malformed sync token %q: %v", e.Token, e.Err)
}

func (e *MalformedTokenError) Unwrap() error { return e.Err }

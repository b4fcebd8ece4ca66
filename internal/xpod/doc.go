// Package xpod defines the messages pods exchange to keep cross-pod
// shares consistent.
//
// Every request is a JSON object with an "action" key. The bind state of a
// share whose owner and sharee live on different pods is replicated by
// three messages:
//
//	shareinvite    owner pod -> sharee pod
//	shareuninvite  owner pod -> sharee pod
//	sharereply     sharee pod -> owner pod
//
// A sharee reads the owner's data through home-child requests that name
// the shared collection by the bind UID of the owner's row (owner_id).
//
// Every response is {"result": "ok", "value": ...} or {"result":
// "exception", "class": ..., "message": ...}. The class
// NonExistentExternalShare tells the sender that the receiving pod no
// longer knows the share, and decodes back to ErrNonExistentExternalShare.
//
// The package knows nothing about storage or transport. Senders implement
// Conduit, receivers implement Handler, and Dispatch connects a decoded
// request to a Handler.
package xpod

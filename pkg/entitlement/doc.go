// Package entitlement projects subscription state onto the chat application's
// user documents in Mongo and caches the per-user active flag in Redis for
// the hot request path. It is a best-effort collaborator: the subscription
// store remains the source of truth.
package entitlement

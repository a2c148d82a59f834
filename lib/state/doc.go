// Package state persists the state of single entities with optimistic concurrency.
//
// A record is addressed by (entity type, entity id) within one service. Its key is
// built with keys.StateKey, so identities that would produce a key of
// keys.MaxKeyLength bytes or more fail with keys.ErrKeyTooLong.
//
// Every Write and Clear names the version the caller last saw. If the durable record
// has another version the operation fails with *InconsistentStateError and nothing is
// changed. A Write with store.NoVersion only succeeds if no record exists, so a first
// write never silently overwrites state the caller did not know about. Of several
// writers racing on the same version exactly one succeeds.
//
// Backend failures are wrapped and can be detected with
// errors.Is(err, store.ErrUnavailable). They are safe to retry, conflicts are not.
//
// Usage:
//
//	states := state.NewStore(sessions, state.Options{ServiceID: "billing"})
//
//	rec, err := states.Read(ctx, "Invoice", "inv-42", nil)
//	if err != nil { ... }
//
//	v, err := states.Write(ctx, "Invoice", "inv-42", payload, rec.Version)
//	if errors.Is(err, state.ErrInconsistentState) {
//		// someone else wrote first, read again
//	}
package state

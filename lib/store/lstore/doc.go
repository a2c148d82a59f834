// Package lstore implements a local, single-node session provider based on the
// store.IStore interface. It is a thin wrapper around any db.KVDB implementation
// with automatic write index management.
//
// Implementation Details:
//
//   - Write Index Management: The store keeps an atomic counter that increments with
//     each write operation. The index of a write becomes the version of the record it
//     produces. The counter starts at the highest index the database has seen, so a
//     persistent engine never hands out a version twice.
//
//   - Racing Writers: Two writers may draw their indexes in one order and reach the
//     database in the other. The database ignores the older write. An unconditional
//     write that lost this race is reported as successful (it was overwritten right
//     away), a conditional one as a conflict.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB supports the requested feature. Unsupported operations return
//     RetCUnsupportedOperation.
//
//   - Staleness: Find always reads the current state, QueryOptions are ignored and
//     results are never marked stale.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(func() (db.KVDB, error) {
//		return maple.NewMapleDB(nil), nil
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	v, err := s.Store(ctx, "State/svc.e1.Counter", doc, store.IfAbsent())
package lstore

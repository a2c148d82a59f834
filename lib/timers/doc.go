/*
Package timers provides a registry of durable timers placed on a uint32 hash ring.

Every timer belongs to an owner. The owner hash (see OwnerHash) is stored as the
rank of the timer document, so a node responsible for a ring segment can load
all of its timers with a single range query:

	reg := timers.NewRegistry(sessions, timers.Options{ServiceID: "orders", ClusterID: "eu-1"})
	for _, r := range timers.SplitRing(4) {
		due, err := reg.FindByRange(ctx, r.Begin, r.End)
		...
	}

Ranges are half open, (Begin, End], and wrap around zero if Begin > End. A range
with Begin == End covers the whole ring.

Stored rows that cannot be decoded are skipped and reported in Result.Skipped.
A single bad row never fails a query.
*/
package timers

// Package keys builds the string identifiers under which state records and
// timer entries are stored.
//
// All functions are pure and deterministic: the same inputs always produce the
// same key, on every node and across restarts. Keys are bounded by MaxKeyLength
// and never contain the characters reserved by the document key grammar
// ('/', '\' and '|' inside a segment).
//
// Key layouts:
//
//	state key:  {prefix}/{serviceID}.{ownerKey}.{entityType}
//	            {serviceID}.{ownerKey}.{entityType}            (no prefix)
//	timer key:  {prefix}/{sanitize(ownerKey + "-" + timerName)}
//
// PartitionBounds produces a lexicographic bound pair for stores that can only
// filter on string ranges. The numeric owner hash (see package timers) is the
// primary partitioning mechanism; the bounds are kept as an alternative.
package keys

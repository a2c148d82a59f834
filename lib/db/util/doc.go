// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - functions: Seed generation and a seeded FNV-1a string hash used for shard placement
//   - statistics: A SizeSampler backed by go-metrics histograms that estimates value size
//     and shard distribution statistics without full scans
//
// Each component is designed to work with any implementation of the db.KVDB interface.
package util

// Package internal provides the communication protocol structures and serialization
// logic for the dstore package.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Defines write operations (Put, Delete, DeleteCollection) that modify
//     the database. Commands are serialized and proposed to the RAFT shard, executed on the
//     state machine, and produce results that are returned to the client.
//
//   - Query System: Defines read operations (Get, Find, GetDBInfo). Queries are executed
//     locally on the state machine and therefore do not require serialization.
//
// Command Format:
//
//	- 1 byte: Command type (Put, Delete, DeleteCollection)
//	- 1 byte: Condition kind (Always, IfAbsent, IfVersion)
//	- 8 bytes: Expected version (uint64, big endian)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data (the collection name for DeleteCollection)
//	- M bytes: Encoded document (only Put, see db.Document.MarshalBinary)
//
// Result Format:
//
//	The state machine returns the store.RetCode in Result.Value. On success and on
//	conflicts Result.Data holds one big endian uint64: the new version (Put), the write
//	index (Delete), the number of deleted documents (DeleteCollection) or the current
//	version (conflict). Other codes carry an error message.
package internal

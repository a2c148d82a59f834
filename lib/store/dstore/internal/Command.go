package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTPut              CommandType = iota // Insert or replace a document if the condition holds.
	CommandTDelete                              // Delete a document if the condition holds.
	CommandTDeleteCollection                    // Delete every document of a collection.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTDelete:
		return "Delete"
	case CommandTDeleteCollection:
		return "DeleteCollection"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType (and the condition it carries) to the
// db.Feature needed to execute it.
func (ct CommandType) ToDBFeature(cond db.Condition) (db.Feature, error) {
	switch ct {
	case CommandTPut:
		if cond.Kind != db.CondAlways {
			return db.FeatureConditionalPut, nil
		}
		return db.FeaturePut, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTDeleteCollection:
		return db.FeatureDeleteCollection, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// headerSize is Type + ConditionKind + ConditionVersion + KeyLen
const headerSize = 1 + 1 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// For CommandTDeleteCollection Key holds the collection name.
type Command struct {
	Type CommandType
	Cond db.Condition
	Key  string
	Doc  db.Document // only used by CommandTPut
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 1 byte for the condition kind,
// 8 bytes for the expected version (big endian),
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for the encoded document (only CommandTPut, see db.Document.MarshalBinary)
func (command *Command) Serialize() ([]byte, error) {
	var doc []byte
	if command.Type == CommandTPut {
		var err error
		if doc, err = command.Doc.MarshalBinary(); err != nil {
			return nil, err
		}
	}

	result := make([]byte, headerSize+len(command.Key)+len(doc))

	result[0] = byte(command.Type)
	result[1] = byte(command.Cond.Kind)
	binary.BigEndian.PutUint64(result[2:10], command.Cond.Version)
	binary.BigEndian.PutUint32(result[10:14], uint32(len(command.Key)))
	copy(result[headerSize:], command.Key)
	copy(result[headerSize+len(command.Key):], doc)

	return result, nil
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Cond = db.Condition{
		Kind:    db.ConditionKind(data[1]),
		Version: binary.BigEndian.Uint64(data[2:10]),
	}

	keyLen := int(binary.BigEndian.Uint32(data[10:14]))
	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	command.Doc = db.Document{}
	rest := data[headerSize+keyLen:]
	switch {
	case command.Type == CommandTPut:
		if err := command.Doc.UnmarshalBinary(rest); err != nil {
			return err
		}
	case len(rest) > 0:
		return fmt.Errorf("%d unexpected bytes after %s command", len(rest), command.Type)
	}

	return nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// EncodeNumber encodes the number carried by a command result
// (new version, current version on conflicts or the number of deleted documents)
func EncodeNumber(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

// DecodeNumber is the inverse of EncodeNumber
func DecodeNumber(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid result length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

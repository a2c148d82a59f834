package db

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Constants for the snapshot format shared by all engines
const (
	snapshotMagic   = "DPSNAP\x00\x00" // File format identifier
	snapshotVersion = 1                // Format version
)

// WriteSnapshot writes entries with the format:
// 8 bytes magic, 1 byte format version, 8 bytes write index, 8 bytes entry count,
// then per entry: 4 bytes key length, key, 8 bytes version, 4 bytes document length, document (see Document.MarshalBinary).
// All integers are little endian.
func WriteSnapshot(w io.Writer, writeIdx uint64, entries []Entry) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, writeIdx); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, e.Version); err != nil {
			return err
		}
		doc, err := e.Doc.MarshalBinary()
		if err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(doc))); err != nil {
			return err
		}
		if _, err := bw.Write(doc); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot and calls fn for every entry.
// It returns the write index recorded in the snapshot.
func ReadSnapshot(r io.Reader, fn func(e Entry) error) (uint64, error) {
	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return 0, err
	}
	if string(magicBytes) != snapshotMagic {
		return 0, fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if int(version) != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var writeIdx, count uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return 0, err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return 0, err
	}

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return 0, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return 0, err
		}

		var entryVersion uint64
		if err := binary.Read(br, binary.LittleEndian, &entryVersion); err != nil {
			return 0, err
		}

		var docLen uint32
		if err := binary.Read(br, binary.LittleEndian, &docLen); err != nil {
			return 0, err
		}
		raw := make([]byte, docLen)
		if _, err := io.ReadFull(br, raw); err != nil {
			return 0, err
		}

		var doc Document
		if err := doc.UnmarshalBinary(raw); err != nil {
			return 0, fmt.Errorf("entry %d (%q): %w", i, key, err)
		}

		// the snapshot index never lags behind the entries it contains
		if entryVersion > writeIdx {
			writeIdx = entryVersion
		}

		if err := fn(Entry{Key: string(key), Doc: doc, Version: entryVersion}); err != nil {
			return 0, err
		}
	}

	return writeIdx, nil
}

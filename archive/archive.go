// Package archive keeps completed inbound files on disk so they survive a
// gateway restart. Files are lz4-compressed and stored in BadgerDB next to a
// JSON metadata record. Transfer state is never rebuilt from the archive.
package archive

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/opd-ai/meshgate/file"
	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const (
	metaPrefix = "meta:"
	dataPrefix = "data:"
)

var (
	// ErrNotFound indicates a transfer id with no archived file.
	ErrNotFound = errors.New("transfer not archived")
	// ErrCorrupt indicates stored data that no longer matches its digest.
	ErrCorrupt = errors.New("archived file corrupt")
)

// Entry describes one archived file.
type Entry struct {
	TransferID     uint32    `json:"transfer_id"`
	Size           int       `json:"size"`
	CompressedSize int       `json:"compressed_size"`
	TotalChunks    uint32    `json:"total_chunks"`
	Digest         string    `json:"digest"`
	CompletedAt    time.Time `json:"completed_at"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// Archive wraps BadgerDB for completed file storage.
type Archive struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) an archive at path.
func Open(path string) (*Archive, error) {
	return open(badger.DefaultOptions(path).WithLogger(nil))
}

// OpenInMemory opens an archive that is discarded on Close.
func OpenInMemory() (*Archive, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Archive, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Open",
		"path":      opts.Dir,
		"in_memory": opts.InMemory,
	}).Info("Opened file archive")
	return &Archive{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func metaKey(id uint32) []byte {
	return []byte(metaPrefix + strconv.FormatUint(uint64(id), 10))
}

func dataKey(id uint32) []byte {
	return []byte(dataPrefix + strconv.FormatUint(uint64(id), 10))
}

// Put archives a completed transfer. Archiving the same id again replaces it.
func (a *Archive) Put(done *file.CompletedTransfer) (Entry, error) {
	compressed, err := compress(done.Data)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		TransferID:     done.TransferID,
		Size:           done.Size,
		CompressedSize: len(compressed),
		TotalChunks:    done.TotalChunks,
		Digest:         digest(done.Data),
		CompletedAt:    done.CompletedAt,
		ArchivedAt:     a.now(),
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(done.TransferID), compressed); err != nil {
			return err
		}
		return txn.Set(metaKey(done.TransferID), meta)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("archive transfer %d: %w", done.TransferID, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Put",
		"transfer_id":     done.TransferID,
		"size":            entry.Size,
		"compressed_size": entry.CompressedSize,
	}).Info("Archived completed transfer")

	return entry, nil
}

// Get returns the decompressed file of transfer id. The data is checked
// against the digest recorded by Put.
func (a *Archive) Get(id uint32) ([]byte, error) {
	var (
		compressed []byte
		entry      Entry
	)
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		item, err = txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	data, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", ErrCorrupt, id, err)
	}
	if entry.Digest != "" && digest(data) != entry.Digest {
		logrus.WithFields(logrus.Fields{
			"function":    "Get",
			"transfer_id": id,
		}).Warn("Archived file failed digest check")
		return nil, fmt.Errorf("%w: %d", ErrCorrupt, id)
	}
	return data, nil
}

// Entry returns the metadata of transfer id.
func (a *Archive) Entry(id uint32) (Entry, error) {
	var entry Entry
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return entry, err
}

// List returns every archived entry, oldest completion first.
func (a *Archive) List() ([]Entry, error) {
	entries := make([]Entry, 0)
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].TransferID < entries[j].TransferID
		}
		return entries[i].CompletedAt.Before(entries[j].CompletedAt)
	})
	return entries, nil
}

// Delete removes transfer id from the archive.
func (a *Archive) Delete(id uint32) error {
	return a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %d", ErrNotFound, id)
			}
			return err
		}
		if err := txn.Delete(dataKey(id)); err != nil {
			return err
		}
		return txn.Delete(metaKey(id))
	})
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	return buf.Bytes(), nil
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

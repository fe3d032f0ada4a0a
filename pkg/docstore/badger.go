package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefixDoc namespaces document keys within the Badger keyspace, the
// same single-byte-prefix convention the teacher's graph storage engine
// uses for its node/edge/index key families.
const keyPrefixDoc = byte(0x01)

// BadgerStore is a Store backed by an embedded BadgerDB instance, for
// callers that want the metadata table to survive a process restart
// without waiting on a full rebuild from the upstream document source.
// It is not used for index snapshot/load — that always goes through the
// engine's own manifest+sections codec (see package snapshot).
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a Badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: open badger at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying Badger handle.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func docKey(id string) []byte {
	return append([]byte{keyPrefixDoc}, []byte(id)...)
}

// Put serializes doc as JSON and writes it under its id's key.
func (b *BadgerStore) Put(doc *Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_ = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(doc.ID), data)
	})
}

// Get looks up id and decodes its stored Document, if present.
func (b *BadgerStore) Get(id string) (*Document, bool) {
	var doc Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, false
	}
	return &doc, true
}

// Delete removes id's entry, if present.
func (b *BadgerStore) Delete(id string) {
	_ = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(id))
	})
}

// All scans every document key and decodes its value.
func (b *BadgerStore) All() []*Document {
	var out []*Document
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{keyPrefixDoc}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{keyPrefixDoc}); it.ValidForPrefix([]byte{keyPrefixDoc}); it.Next() {
			item := it.Item()
			var doc Document
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err == nil {
				out = append(out, &doc)
			}
		}
		return nil
	})
	return out
}

// Len counts document keys by scanning the prefix. BadgerDB has no O(1)
// count, so this is O(n) — callers on the hot path should prefer the
// in-memory store's Len.
func (b *BadgerStore) Len() int {
	n := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{keyPrefixDoc}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte{keyPrefixDoc}); it.ValidForPrefix([]byte{keyPrefixDoc}); it.Next() {
			n++
		}
		return nil
	})
	return n
}

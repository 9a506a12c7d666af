package rete

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

// storeRow is the exported shape go-memdb indexes facts by; Fact's
// own fields stay private (spec §13, "Fact store substrate": a single
// "facts" table indexed by fact_id").
type storeRow struct {
	ID   int64
	Fact *Fact
}

var factSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"facts": {
			Name: "facts",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.IntFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// FactStore is the engine's substrate of record for whole facts,
// keyed by FactID (spec §13). The beta/alpha networks never consult
// it directly; it exists so Engine.Fact and Engine.Facts can answer
// "what do we currently believe" without the caller reconstructing
// state from WME traffic.
type FactStore struct {
	db *memdb.MemDB
}

func newFactStore() *FactStore {
	db, err := memdb.NewMemDB(factSchema)
	if err != nil {
		// factSchema is a compile-time constant; a failure here means
		// this binary is broken, not that the caller did anything wrong.
		panic(errors.Wrap(err, "rete: invalid fact store schema"))
	}
	return &FactStore{db: db}
}

func (s *FactStore) put(id FactID, f *Fact) {
	txn := s.db.Txn(true)
	defer txn.Commit()
	_ = txn.Insert("facts", storeRow{ID: int64(id), Fact: f})
}

func (s *FactStore) delete(id FactID) {
	txn := s.db.Txn(true)
	defer txn.Commit()
	txn.Delete("facts", storeRow{ID: int64(id)})
}

func (s *FactStore) get(id FactID) (*Fact, bool) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("facts", "id", int64(id))
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(storeRow).Fact, true
}

// all returns every fact currently in the store, in no particular
// order.
func (s *FactStore) all() []*Fact {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("facts", "id")
	if err != nil {
		return nil
	}
	var out []*Fact
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(storeRow).Fact)
	}
	return out
}

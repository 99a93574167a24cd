// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
	"github.com/enzygraph/enzygraph/services/atlas/store"
)

// Key layout. Edge keys embed the normalized pair so a rebuild can
// replace the whole prefix.
const (
	proteinPrefix = "protein:"
	edgePrefix    = "edge:"

	// writeChunk caps entries per transaction to stay under badger's
	// transaction size limit.
	writeChunk = 500
)

func proteinKey(accession string) []byte {
	return []byte(proteinPrefix + accession)
}

func edgeKey(a, b string) []byte {
	return []byte(edgePrefix + a + "|" + b)
}

// Store implements store.EntityStore on an embedded BadgerDB.
//
// Thread Safety: safe for concurrent use; badger transactions provide
// isolation.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore creates a store over an open database.
func NewStore(db *DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

var _ store.EntityStore = (*Store)(nil)

func (s *Store) PutProteins(ctx context.Context, proteins []*protein.Protein) error {
	for _, p := range proteins {
		if p == nil {
			return store.ErrNilProtein
		}
		if p.Accession == "" {
			return store.ErrEmptyAccession
		}
	}

	for lo := 0; lo < len(proteins); lo += writeChunk {
		hi := lo + writeChunk
		if hi > len(proteins) {
			hi = len(proteins)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, p := range proteins[lo:hi] {
				buf, err := json.Marshal(p)
				if err != nil {
					return fmt.Errorf("encode protein %s: %w", p.Accession, err)
				}
				if err := txn.Set(proteinKey(p.Accession), buf); err != nil {
					return fmt.Errorf("put protein %s: %w", p.Accession, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetProtein(ctx context.Context, accession string) (*protein.Protein, error) {
	var p *protein.Protein
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(proteinKey(accession))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", store.ErrNotFound, accession)
			}
			return fmt.Errorf("get protein %s: %w", accession, err)
		}
		return item.Value(func(val []byte) error {
			p = &protein.Protein{}
			return json.Unmarshal(val, p)
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) Snapshot(ctx context.Context) (map[string]*protein.Protein, error) {
	snapshot := make(map[string]*protein.Protein)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.iteratePrefix(txn, proteinPrefix, func(key string, val []byte) error {
			p := &protein.Protein{}
			if err := json.Unmarshal(val, p); err != nil {
				return fmt.Errorf("decode protein %s: %w", key, err)
			}
			snapshot[p.Accession] = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Store) CountProteins(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(proteinPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ReplaceEdges(ctx context.Context, edges []graph.Edge) error {
	// Collect existing edge keys first; deletes and writes then run in
	// bounded chunks.
	var stale [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(edgePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for lo := 0; lo < len(stale); lo += writeChunk {
		hi := lo + writeChunk
		if hi > len(stale) {
			hi = len(stale)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, key := range stale[lo:hi] {
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("delete edge: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for lo := 0; lo < len(edges); lo += writeChunk {
		hi := lo + writeChunk
		if hi > len(edges) {
			hi = len(edges)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, e := range edges[lo:hi] {
				buf, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("encode edge %s-%s: %w", e.A, e.B, err)
				}
				if err := txn.Set(edgeKey(e.A, e.B), buf); err != nil {
					return fmt.Errorf("put edge %s-%s: %w", e.A, e.B, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.logger.Debug("similarity edges replaced",
		slog.Int("deleted", len(stale)),
		slog.Int("written", len(edges)),
	)
	return nil
}

func (s *Store) Edges(ctx context.Context) ([]graph.Edge, error) {
	var edges []graph.Edge
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.iteratePrefix(txn, edgePrefix, func(key string, val []byte) error {
			var e graph.Edge
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode edge %s: %w", key, err)
			}
			edges = append(edges, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

func (s *Store) SetClusters(ctx context.Context, assignments map[string]int) error {
	accessions := make([]string, 0, len(assignments))
	for acc := range assignments {
		accessions = append(accessions, acc)
	}

	for lo := 0; lo < len(accessions); lo += writeChunk {
		hi := lo + writeChunk
		if hi > len(accessions) {
			hi = len(accessions)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, acc := range accessions[lo:hi] {
				p, err := readProtein(txn, acc)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						continue
					}
					return err
				}
				p.SetCluster(assignments[acc])
				if err := writeProtein(txn, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetInferredLabels(ctx context.Context, clusterID int, labels []string) (int, error) {
	// Find targets with a read pass, then update in chunks.
	var targets []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.iteratePrefix(txn, proteinPrefix, func(key string, val []byte) error {
			p := &protein.Protein{}
			if err := json.Unmarshal(val, p); err != nil {
				return fmt.Errorf("decode protein %s: %w", key, err)
			}
			if p.ClusterID != nil && *p.ClusterID == clusterID && !p.HasGroundTruth() {
				targets = append(targets, p.Accession)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	for lo := 0; lo < len(targets); lo += writeChunk {
		hi := lo + writeChunk
		if hi > len(targets) {
			hi = len(targets)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, acc := range targets[lo:hi] {
				p, err := readProtein(txn, acc)
				if err != nil {
					return err
				}
				p.InferredECNumbers = append([]string(nil), labels...)
				if err := writeProtein(txn, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(targets), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) iteratePrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func readProtein(txn *badger.Txn, accession string) (*protein.Protein, error) {
	item, err := txn.Get(proteinKey(accession))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, accession)
		}
		return nil, fmt.Errorf("get protein %s: %w", accession, err)
	}
	p := &protein.Protein{}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, p) }); err != nil {
		return nil, fmt.Errorf("decode protein %s: %w", accession, err)
	}
	return p, nil
}

func writeProtein(txn *badger.Txn, p *protein.Protein) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode protein %s: %w", p.Accession, err)
	}
	if err := txn.Set(proteinKey(p.Accession), buf); err != nil {
		return fmt.Errorf("put protein %s: %w", p.Accession, err)
	}
	return nil
}

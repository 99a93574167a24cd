// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weaviate

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// ProteinClass is the Weaviate class mirroring the entity store.
const ProteinClass = "Protein"

const (
	// vectorDim is the dimensionality of the domain membership vector.
	// Each InterPro domain hashes to one bucket; cosine similarity over
	// these vectors approximates domain overlap.
	vectorDim = 256

	// listPageSize bounds one page of the object listing query.
	listPageSize = 200

	// neighborLimit bounds the candidate neighbors per entity.
	neighborLimit = 64
)

// EnsureSchema creates the Protein class if it does not exist.
// Vectors are supplied client-side, so the class uses no vectorizer.
func EnsureSchema(ctx context.Context, rc *ResilientClient) error {
	var exists bool
	err := rc.Execute(ctx, func() error {
		var err error
		exists, err = rc.Client().Schema().ClassExistenceChecker().
			WithClassName(ProteinClass).
			Do(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("check %s class: %w", ProteinClass, err)
	}
	if exists {
		return nil
	}

	indexFilterable := new(bool)
	*indexFilterable = true

	class := &models.Class{
		Class:       ProteinClass,
		Description: "Protein entity mirrored from the atlas store for similarity queries",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "accession",
				DataType:        []string{"text"},
				Description:     "Unique UniProt-style accession",
				IndexFilterable: indexFilterable,
				Tokenization:    models.PropertyTokenizationField,
			},
			{
				Name:        "entryName",
				DataType:    []string{"text"},
				Description: "Human-readable entry name",
			},
			{
				Name:        "organism",
				DataType:    []string{"text"},
				Description: "Source organism",
			},
			{
				Name:        "sequenceLength",
				DataType:    []string{"int"},
				Description: "Amino acid count",
			},
			{
				Name:            "domains",
				DataType:        []string{"text[]"},
				Description:     "InterPro domain identifiers",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "ecNumbers",
				DataType:    []string{"text[]"},
				Description: "Ground-truth EC annotations",
			},
		},
	}

	err = rc.Execute(ctx, func() error {
		return rc.Client().Schema().ClassCreator().WithClass(class).Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("create %s class: %w", ProteinClass, err)
	}
	return nil
}

// objectID derives a stable Weaviate object id from an accession, so
// repeated mirroring upserts instead of duplicating.
func objectID(accession string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ProteinClass+"/"+accession)).String()
}

// domainVector hashes the deduplicated domain set into a fixed-width
// membership vector. For two such binary vectors the cosine is
// shared/sqrt(A*B), which jaccardFromCosine converts back to the
// Jaccard coefficient; hash collisions can inflate the recovered
// shared count, which is clamped there.
func domainVector(p *protein.Protein) []float32 {
	vec := make([]float32, vectorDim)
	for _, d := range p.DomainSet() {
		h := fnv.New32a()
		h.Write([]byte(d))
		vec[h.Sum32()%vectorDim] = 1
	}
	return vec
}

// Mirror copies entities and their domain vectors into Weaviate.
//
// Each object is deleted and recreated under its deterministic id, so
// the call is idempotent. Entities without domains are mirrored too;
// their zero vector never matches anything.
func Mirror(ctx context.Context, rc *ResilientClient, proteins []*protein.Protein) error {
	for _, p := range proteins {
		if p == nil || p.Accession == "" {
			continue
		}
		id := objectID(p.Accession)
		props := map[string]interface{}{
			"accession":      p.Accession,
			"entryName":      p.EntryName,
			"organism":       p.Organism,
			"sequenceLength": p.SequenceLength,
			"domains":        p.DomainSet(),
			"ecNumbers":      p.ECNumbers,
		}
		vec := domainVector(p)

		err := rc.Execute(ctx, func() error {
			// Deleting a missing object is not an error in Weaviate.
			_ = rc.Client().Data().Deleter().
				WithClassName(ProteinClass).
				WithID(id).
				Do(ctx)
			_, err := rc.Client().Data().Creator().
				WithClassName(ProteinClass).
				WithID(id).
				WithProperties(props).
				WithVector(vec).
				Do(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("mirror %s: %w", p.Accession, err)
		}
	}
	return nil
}

// Source answers pairwise similarity queries from the mirrored Protein
// class. It implements graph.SimilaritySource for the delegated
// builder: per entity, a nearObject query returns neighbors above a
// certainty floor, certainty converts back to the vector cosine via
// cosine = 2*certainty - 1, and the cosine converts to the Jaccard
// coefficient using the two entities' domain counts. The reported
// weight is therefore shared/union, the same quantity the exact
// builder computes.
type Source struct {
	rc     *ResilientClient
	logger *slog.Logger
}

// NewSource creates a similarity source over the given client.
func NewSource(rc *ResilientClient, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{rc: rc, logger: logger.With(slog.String("component", "similarity_source"))}
}

var _ graph.SimilaritySource = (*Source)(nil)

type listedObject struct {
	accession string
	id        string
	degree    int
}

// jaccardFromCosine converts the cosine of two binary domain-membership
// vectors into the Jaccard coefficient of the underlying sets. With
// domain counts A and B, cosine = shared/sqrt(A*B), so
//
//	shared  = round(cosine * sqrt(A*B))
//	jaccard = shared / (A + B - shared)
//
// Hash collisions can push the recovered shared count past the smaller
// set; it is clamped to min(A, B). Returns false when either count is
// zero or no overlap is recovered.
func jaccardFromCosine(cosine float64, degA, degB int) (float64, bool) {
	if degA <= 0 || degB <= 0 {
		return 0, false
	}
	shared := int(math.Round(cosine * math.Sqrt(float64(degA)*float64(degB))))
	if shared <= 0 {
		return 0, false
	}
	smaller := degA
	if degB < smaller {
		smaller = degB
	}
	if shared > smaller {
		shared = smaller
	}
	return float64(shared) / float64(degA+degB-shared), true
}

// PairwiseSimilarities implements graph.SimilaritySource.
//
// Pairs are reported in whatever orientations the per-entity queries
// produce; the delegated builder collapses duplicates and applies its
// own post-filters.
func (s *Source) PairwiseSimilarities(ctx context.Context, cutoff float64) ([]graph.SimilarityPair, error) {
	objects, err := s.listObjects(ctx)
	if err != nil {
		return nil, err
	}

	// Weaviate certainty is (1+cosine)/2. Cosine never undercuts
	// Jaccard for binary membership vectors, so a certainty floor of
	// (cutoff+1)/2 admits a superset of the qualifying pairs; the
	// converted weight is filtered against the cutoff below.
	certaintyFloor := float32((cutoff + 1) / 2)

	pairs := make([]graph.SimilarityPair, 0, len(objects))
	for _, obj := range objects {
		if obj.degree == 0 {
			continue // zero vector, matches nothing
		}
		neighbors, err := s.neighborsOf(ctx, obj, certaintyFloor)
		if err != nil {
			return nil, fmt.Errorf("neighbors of %s: %w", obj.accession, err)
		}
		for _, n := range neighbors {
			if n.A == n.B || n.Weight < cutoff {
				continue
			}
			pairs = append(pairs, n)
		}
	}

	s.logger.Debug("delegated similarity scan complete",
		slog.Int("entities", len(objects)),
		slog.Int("pairs", len(pairs)),
		slog.Float64("cutoff", cutoff))
	return pairs, nil
}

// listObjects pages through the Protein class collecting accessions,
// object ids, and domain counts.
func (s *Source) listObjects(ctx context.Context) ([]listedObject, error) {
	fields := []graphql.Field{
		{Name: "accession"},
		{Name: "domains"},
		{Name: "_additional { id }"},
	}

	var out []listedObject
	for offset := 0; ; offset += listPageSize {
		var page []listedObject
		err := s.rc.Execute(ctx, func() error {
			result, err := s.rc.Client().GraphQL().Get().
				WithClassName(ProteinClass).
				WithFields(fields...).
				WithLimit(listPageSize).
				WithOffset(offset).
				Do(ctx)
			if err != nil {
				return err
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("graphql error: %s", result.Errors[0].Message)
			}

			page = page[:0]
			for _, raw := range classObjects(result.Data) {
				accession, _ := raw["accession"].(string)
				if accession == "" {
					continue
				}
				additional, _ := raw["_additional"].(map[string]interface{})
				id, _ := additional["id"].(string)
				page = append(page, listedObject{
					accession: accession,
					id:        id,
					degree:    domainCount(raw),
				})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list %s objects: %w", ProteinClass, err)
		}
		out = append(out, page...)
		if len(page) < listPageSize {
			return out, nil
		}
	}
}

// neighborsOf runs one nearObject query and converts certainties to
// Jaccard weights, with the queried entity as side A of every pair.
func (s *Source) neighborsOf(ctx context.Context, obj listedObject, certaintyFloor float32) ([]graph.SimilarityPair, error) {
	fields := []graphql.Field{
		{Name: "accession"},
		{Name: "domains"},
		{Name: "_additional { certainty }"},
	}
	nearObject := s.rc.Client().GraphQL().NearObjectArgBuilder().
		WithID(obj.id).
		WithCertainty(certaintyFloor)

	var pairs []graph.SimilarityPair
	err := s.rc.Execute(ctx, func() error {
		result, err := s.rc.Client().GraphQL().Get().
			WithClassName(ProteinClass).
			WithFields(fields...).
			WithNearObject(nearObject).
			WithLimit(neighborLimit).
			Do(ctx)
		if err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("graphql error: %s", result.Errors[0].Message)
		}

		pairs = pairs[:0]
		for _, raw := range classObjects(result.Data) {
			accession, _ := raw["accession"].(string)
			if accession == "" || accession == obj.accession {
				continue
			}
			additional, _ := raw["_additional"].(map[string]interface{})
			certainty, ok := additional["certainty"].(float64)
			if !ok {
				continue
			}
			weight, ok := jaccardFromCosine(2*certainty-1, obj.degree, domainCount(raw))
			if !ok {
				continue
			}
			pairs = append(pairs, graph.SimilarityPair{
				A:      obj.accession,
				B:      accession,
				Weight: weight,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// domainCount reads the length of an object's domains property. The
// mirror deduplicates domains on write, so the length is the set
// cardinality.
func domainCount(raw map[string]interface{}) int {
	domains, _ := raw["domains"].([]interface{})
	return len(domains)
}

// classObjects unwraps a GraphQL Get response down to the per-object
// property maps.
func classObjects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	rows, ok := get[ProteinClass].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if m, ok := row.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

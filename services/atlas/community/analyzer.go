// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"log/slog"
	"math"
	"sort"

	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// SampleMemberLimit caps the member accessions sampled per cluster.
const SampleMemberLimit = 20

// ClusterStats are the per-cluster aggregates.
type ClusterStats struct {
	// ClusterID identifies the cluster.
	ClusterID int `json:"cluster_id"`

	// Size is the member count.
	Size int `json:"size"`

	// LabeledCount is the number of members with ground-truth EC numbers.
	LabeledCount int `json:"labeled_count"`

	// UnlabeledCount is Size - LabeledCount.
	UnlabeledCount int `json:"unlabeled_count"`

	// LabelingRate is LabeledCount/Size, 0 for empty clusters.
	LabelingRate float64 `json:"labeling_rate"`

	// ECNumbers is the distinct label vocabulary among labeled members,
	// sorted, with no frequency collapsing.
	ECNumbers []string `json:"ec_numbers"`

	// AvgSequenceLength is the mean sequence length, rounded to 0.1.
	AvgSequenceLength float64 `json:"avg_sequence_length"`

	// OrganismCount is the distinct organism count.
	OrganismCount int `json:"organism_count"`

	// SampleMembers are the first SampleMemberLimit accessions,
	// ascending.
	SampleMembers []string `json:"sample_members"`
}

// Summary aggregates across all reported clusters.
type Summary struct {
	TotalClusters       int     `json:"total_clusters"`
	TotalEntities       int     `json:"total_entities"`
	OverallLabelingRate float64 `json:"overall_labeling_rate"`
	MinClusterSize      int     `json:"min_cluster_size"`
	MaxClusterSize      int     `json:"max_cluster_size"`
	AvgClusterSize      float64 `json:"avg_cluster_size"`
}

// Analysis is the analyzer output: per-cluster statistics plus a
// global summary. Computed fresh each run, never stored.
type Analysis struct {
	Clusters []ClusterStats `json:"clusters"`
	Summary  Summary        `json:"summary"`
}

// ClusterStats returns the statistics for one cluster id.
func (a *Analysis) ClusterStats(id int) (ClusterStats, bool) {
	for _, c := range a.Clusters {
		if c.ClusterID == id {
			return c, true
		}
	}
	return ClusterStats{}, false
}

// Analyzer computes per-cluster aggregates.
//
// Pure aggregation: never mutates entity state.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// Analyze aggregates the reported clusters of a detection result.
//
// Description:
//
//	For each reported cluster, collects member proteins and computes
//	size, label coverage, distinct EC vocabulary, average sequence
//	length (rounded to 0.1), distinct organism count, and a member
//	sample. Members missing from the snapshot are counted in Size but
//	contribute no attributes. Zero clusters yields an empty summary
//	with guarded zero rates.
//
// Inputs:
//
//   - detection: The detector output. Nil yields ErrNoAnalysis via the
//     propagator; here a nil detection produces an empty analysis.
//   - proteins: The entity snapshot keyed by accession.
//
// Outputs:
//
//   - *Analysis: Per-cluster statistics sorted by cluster id.
func (a *Analyzer) Analyze(detection *DetectionResult, proteins map[string]*protein.Protein) *Analysis {
	analysis := &Analysis{Clusters: []ClusterStats{}}
	if detection == nil || len(detection.Clusters) == 0 {
		return analysis
	}

	totalEntities := 0
	totalLabeled := 0
	minSize := math.MaxInt
	maxSize := 0

	for _, cluster := range detection.Clusters {
		stats := ClusterStats{
			ClusterID: cluster.ID,
			Size:      len(cluster.Members),
			ECNumbers: []string{},
		}

		vocab := make(map[string]bool)
		organisms := make(map[string]bool)
		seqTotal := 0
		seqCount := 0

		for _, acc := range cluster.Members {
			p, ok := proteins[acc]
			if !ok || p == nil {
				continue
			}
			if p.HasGroundTruth() {
				stats.LabeledCount++
				for _, ec := range p.ECNumbers {
					if ec != "" {
						vocab[ec] = true
					}
				}
			}
			if p.Organism != "" {
				organisms[p.Organism] = true
			}
			if p.SequenceLength > 0 {
				seqTotal += p.SequenceLength
				seqCount++
			}
		}

		stats.UnlabeledCount = stats.Size - stats.LabeledCount
		if stats.Size > 0 {
			stats.LabelingRate = float64(stats.LabeledCount) / float64(stats.Size)
		}
		for ec := range vocab {
			stats.ECNumbers = append(stats.ECNumbers, ec)
		}
		sort.Strings(stats.ECNumbers)
		if seqCount > 0 {
			stats.AvgSequenceLength = math.Round(float64(seqTotal)/float64(seqCount)*10) / 10
		}
		stats.OrganismCount = len(organisms)

		sample := cluster.Members
		if len(sample) > SampleMemberLimit {
			sample = sample[:SampleMemberLimit]
		}
		stats.SampleMembers = append([]string(nil), sample...)

		analysis.Clusters = append(analysis.Clusters, stats)

		totalEntities += stats.Size
		totalLabeled += stats.LabeledCount
		if stats.Size < minSize {
			minSize = stats.Size
		}
		if stats.Size > maxSize {
			maxSize = stats.Size
		}
	}

	sort.Slice(analysis.Clusters, func(i, j int) bool {
		return analysis.Clusters[i].ClusterID < analysis.Clusters[j].ClusterID
	})

	analysis.Summary = Summary{
		TotalClusters:  len(analysis.Clusters),
		TotalEntities:  totalEntities,
		MinClusterSize: minSize,
		MaxClusterSize: maxSize,
	}
	if totalEntities > 0 {
		analysis.Summary.OverallLabelingRate = float64(totalLabeled) / float64(totalEntities)
	}
	if len(analysis.Clusters) > 0 {
		analysis.Summary.AvgClusterSize = float64(totalEntities) / float64(len(analysis.Clusters))
	} else {
		analysis.Summary.MinClusterSize = 0
	}

	a.logger.Debug("community analysis completed",
		slog.Int("clusters", analysis.Summary.TotalClusters),
		slog.Int("entities", analysis.Summary.TotalEntities),
		slog.Float64("labeling_rate", analysis.Summary.OverallLabelingRate),
	)

	return analysis
}

// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// DefaultThreshold is the weighted-threshold qualification frequency.
const DefaultThreshold = 0.3

// Policy names a label propagation policy.
type Policy string

const (
	// PolicyWeighted assigns every label whose frequency among labeled
	// members meets the threshold (multi-label).
	PolicyWeighted Policy = "weighted"

	// PolicyMajority assigns only the most frequent label, ties broken
	// lexicographically (single-label).
	PolicyMajority Policy = "majority"
)

// ClusterInference is one cluster's propagation outcome.
type ClusterInference struct {
	// ClusterID identifies the cluster.
	ClusterID int `json:"cluster_id"`

	// Labels are the inferred EC numbers, sorted.
	Labels []string `json:"labels"`

	// EntitiesLabeled is how many unlabeled members received the set.
	EntitiesLabeled int `json:"entities_labeled"`
}

// PropagationResult is the outcome of one apply operation.
type PropagationResult struct {
	// Policy is the applied policy.
	Policy Policy `json:"policy"`

	// Clusters holds one entry per cluster that received labels.
	Clusters []ClusterInference `json:"clusters"`

	// ClustersTouched is len(Clusters).
	ClustersTouched int `json:"clusters_touched"`

	// EntitiesLabeled is the total unlabeled members written.
	EntitiesLabeled int `json:"entities_labeled"`
}

// ClusterComparison is the side-by-side view of both policies for one
// cluster, computed without committing changes.
type ClusterComparison struct {
	ClusterID       int      `json:"cluster_id"`
	Size            int      `json:"size"`
	LabeledCount    int      `json:"labeled_count"`
	UnlabeledCount  int      `json:"unlabeled_count"`
	WeightedLabels  []string `json:"weighted_labels"`
	MajorityLabel   string   `json:"majority_label"`
	VocabularySize  int      `json:"vocabulary_size"`
}

// ComparisonResult is the non-committing comparison of both policies.
type ComparisonResult struct {
	Threshold float64             `json:"threshold"`
	Clusters  []ClusterComparison `json:"clusters"`
}

// Propagator computes and applies label inference.
//
// Apply operations only ever populate InferredECNumbers; ground-truth
// ECNumbers are never overwritten. Re-applying a policy on unchanged
// cluster composition yields the same inferred set (idempotent). When
// policies are applied in sequence, the second write wins.
type Propagator struct {
	logger *slog.Logger
}

// NewPropagator creates a propagator.
func NewPropagator(logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{logger: logger}
}

// ValidateThreshold rejects thresholds outside (0, 1]. Zero would
// qualify every label ever seen and is rejected as misconfiguration.
func ValidateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	return nil
}

// labelCounts tallies, per EC number, how many labeled members of the
// cluster carry it. A member carrying the same label twice counts once.
func labelCounts(members []string, proteins map[string]*protein.Protein) (counts map[string]int, labeled int) {
	counts = make(map[string]int)
	for _, acc := range members {
		p, ok := proteins[acc]
		if !ok || p == nil || !p.HasGroundTruth() {
			continue
		}
		labeled++
		seen := make(map[string]bool, len(p.ECNumbers))
		for _, ec := range p.ECNumbers {
			if ec == "" || seen[ec] {
				continue
			}
			seen[ec] = true
			counts[ec]++
		}
	}
	return counts, labeled
}

// weightedLabels returns the sorted labels whose frequency among
// labeled members meets the threshold.
func weightedLabels(counts map[string]int, labeled int, threshold float64) []string {
	if labeled == 0 {
		return nil
	}
	out := make([]string, 0, len(counts))
	for ec, count := range counts {
		if float64(count)/float64(labeled) >= threshold {
			out = append(out, ec)
		}
	}
	sort.Strings(out)
	return out
}

// majorityLabel returns the most frequent label, ties broken by
// lexicographic order for determinism. Empty string if no labels.
func majorityLabel(counts map[string]int) string {
	best := ""
	bestCount := 0
	for ec, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || ec < best)) {
			best = ec
			bestCount = count
		}
	}
	return best
}

// eligible reports whether a cluster participates in propagation:
// it must have unlabeled members and a non-empty labeled vocabulary.
func eligible(stats ClusterStats) bool {
	return stats.UnlabeledCount > 0 && len(stats.ECNumbers) > 0
}

// Apply computes the policy's labels per eligible cluster and writes
// them to every unlabeled member's InferredECNumbers.
//
// Description:
//
//	For PolicyWeighted, threshold must be in (0, 1]; for PolicyMajority
//	the threshold is ignored. The write fully overwrites the previous
//	inferred set (last-write-wins between policies) and never touches
//	members with ground truth.
//
// Outputs:
//
//   - *PropagationResult: Per-cluster inferences with exact counts.
//   - error: ErrNoAnalysis, ErrInvalidThreshold, or ErrUnknownPolicy.
func (pr *Propagator) Apply(policy Policy, analysis *Analysis, proteins map[string]*protein.Protein, detection *DetectionResult, threshold float64) (*PropagationResult, error) {
	if analysis == nil || detection == nil {
		return nil, ErrNoAnalysis
	}
	switch policy {
	case PolicyWeighted:
		if err := ValidateThreshold(threshold); err != nil {
			return nil, err
		}
	case PolicyMajority:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	result := &PropagationResult{Policy: policy, Clusters: []ClusterInference{}}

	for _, stats := range analysis.Clusters {
		if !eligible(stats) {
			continue
		}
		cluster, ok := detection.Cluster(stats.ClusterID)
		if !ok {
			continue
		}

		counts, labeled := labelCounts(cluster.Members, proteins)
		if labeled == 0 {
			continue
		}

		var labels []string
		switch policy {
		case PolicyWeighted:
			labels = weightedLabels(counts, labeled, threshold)
		case PolicyMajority:
			if ec := majorityLabel(counts); ec != "" {
				labels = []string{ec}
			}
		}
		if len(labels) == 0 {
			continue
		}

		written := pr.writeInferred(cluster.Members, proteins, labels)
		if written == 0 {
			continue
		}
		result.Clusters = append(result.Clusters, ClusterInference{
			ClusterID:       stats.ClusterID,
			Labels:          labels,
			EntitiesLabeled: written,
		})
		result.EntitiesLabeled += written
	}

	result.ClustersTouched = len(result.Clusters)

	pr.logger.Info("label propagation applied",
		slog.String("policy", string(policy)),
		slog.Int("clusters_touched", result.ClustersTouched),
		slog.Int("entities_labeled", result.EntitiesLabeled),
	)

	return result, nil
}

// Compare computes both policies side-by-side for every eligible
// cluster without committing changes to any entity.
func (pr *Propagator) Compare(analysis *Analysis, proteins map[string]*protein.Protein, detection *DetectionResult, threshold float64) (*ComparisonResult, error) {
	if analysis == nil || detection == nil {
		return nil, ErrNoAnalysis
	}
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	result := &ComparisonResult{Threshold: threshold, Clusters: []ClusterComparison{}}

	for _, stats := range analysis.Clusters {
		if !eligible(stats) {
			continue
		}
		cluster, ok := detection.Cluster(stats.ClusterID)
		if !ok {
			continue
		}
		counts, labeled := labelCounts(cluster.Members, proteins)
		if labeled == 0 {
			continue
		}

		result.Clusters = append(result.Clusters, ClusterComparison{
			ClusterID:      stats.ClusterID,
			Size:           stats.Size,
			LabeledCount:   stats.LabeledCount,
			UnlabeledCount: stats.UnlabeledCount,
			WeightedLabels: weightedLabels(counts, labeled, threshold),
			MajorityLabel:  majorityLabel(counts),
			VocabularySize: len(stats.ECNumbers),
		})
	}

	return result, nil
}

// ApplyManual assigns an explicit EC list to every unlabeled member of
// one cluster. Writes InferredECNumbers only.
func (pr *Propagator) ApplyManual(clusterID int, labels []string, proteins map[string]*protein.Protein, detection *DetectionResult) (*PropagationResult, error) {
	if detection == nil {
		return nil, ErrNoAnalysis
	}
	cluster, ok := detection.Cluster(clusterID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrClusterNotFound, clusterID)
	}

	clean := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, ec := range labels {
		if ec == "" || seen[ec] {
			continue
		}
		seen[ec] = true
		clean = append(clean, ec)
	}
	sort.Strings(clean)

	written := pr.writeInferred(cluster.Members, proteins, clean)

	result := &PropagationResult{
		Policy:          "manual",
		Clusters:        []ClusterInference{{ClusterID: clusterID, Labels: clean, EntitiesLabeled: written}},
		ClustersTouched: 1,
		EntitiesLabeled: written,
	}

	pr.logger.Info("manual label override applied",
		slog.Int("cluster_id", clusterID),
		slog.Int("entities_labeled", written),
	)

	return result, nil
}

// writeInferred sets the inferred label set on every unlabeled member.
// Members with ground truth are never touched. Each member gets its
// own copy of the sorted set.
func (pr *Propagator) writeInferred(members []string, proteins map[string]*protein.Protein, labels []string) int {
	written := 0
	for _, acc := range members {
		p, ok := proteins[acc]
		if !ok || p == nil || p.HasGroundTruth() {
			continue
		}
		p.InferredECNumbers = append([]string(nil), labels...)
		written++
	}
	return written
}

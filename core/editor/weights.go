package editor

import (
	"math"
	"strconv"
	"strings"
)

// TotalWeight is the sum every set of effective group weights aims for.
const TotalWeight = 100.0

const weightTolerance = 1e-6

// ComputedGroupWeights returns the effective weight of every group. Explicit
// weights are kept verbatim; whatever remains of TotalWeight is split evenly
// among groups without one. The remainder never goes below zero.
func (s *Store) ComputedGroupWeights() map[string]float64 {
	groups := s.SyntheticGroups()
	out := make(map[string]float64, len(groups))
	explicit := 0.0
	var unassigned []string
	for _, g := range groups {
		if w, ok := s.doc.Classifier.GroupWeights[g]; ok {
			out[g] = w
			explicit += w
			continue
		}
		unassigned = append(unassigned, g)
	}
	if len(unassigned) == 0 {
		return out
	}
	remaining := math.Max(TotalWeight-explicit, 0)
	share := remaining / float64(len(unassigned))
	for _, g := range unassigned {
		out[g] = share
	}
	return out
}

// UpdateGroupWeight sets an explicit weight for group. Weights must be finite
// and not negative; anything else is reported on the group's weight field and
// the document is left alone.
func (s *Store) UpdateGroupWeight(group string, weight float64) {
	if !s.groupExists(group) {
		return
	}
	field := weightField(group)
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		s.reject(field, CodeInvalidWeight, "Weight must be a finite number greater than or equal to 0", groupStillExists(group))
		s.commit()
		return
	}
	_, rejected := s.rejections[field]
	if w, ok := s.doc.Classifier.GroupWeights[group]; ok && w == weight && !rejected {
		return
	}
	s.doc.Classifier.GroupWeights[group] = weight
	delete(s.rejections, field)
	s.commit()
}

// UpdateGroupWeightText parses raw user input before applying it as a weight.
func (s *Store) UpdateGroupWeightText(group, raw string) {
	if !s.groupExists(group) {
		return
	}
	weight, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		s.reject(weightField(group), CodeInvalidWeight, "Weight must be a number", groupStillExists(group))
		s.commit()
		return
	}
	s.UpdateGroupWeight(group, weight)
}

func explicitWeightSum(weights map[string]float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

func groupStillExists(group string) func(*Store) bool {
	return func(st *Store) bool { return st.groupExists(group) }
}

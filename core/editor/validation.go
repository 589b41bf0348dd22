package editor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/refereehq/referee/core/canary"
)

// Code classifies a validation error.
type Code string

const (
	CodeRequired            Code = "Required"
	CodeDuplicateMetricName Code = "DuplicateMetricName"
	CodeDuplicateGroupName  Code = "DuplicateGroupName"
	CodeInvalidWeight       Code = "InvalidWeight"
	CodeWeightOverflow      Code = "WeightOverflow"
	CodeWeightSum           Code = "WeightSum"
	CodeEmptyGroup          Code = "EmptyGroup"
	CodeInvalidValue        Code = "InvalidValue"
)

// Field ids that are not indexed.
const (
	FieldName         = "name"
	FieldMetrics      = "metrics"
	FieldMetricName   = "metric.name"
	FieldGroupWeights = "classifier.groupWeights"
)

type issue struct {
	code    Code
	message string
}

// rejection is an input the store refused. It stays reported until a later
// operation on the same field clears it or holds stops returning true. A
// rejection without a predicate lasts until the next state change.
type rejection struct {
	issue
	holds func(*Store) bool
	rev   uint64
}

func metricField(i int, suffix string) string {
	return fmt.Sprintf("metric[%d].%s", i, suffix)
}

func metricNameField(name string) string {
	return "metric[" + name + "]"
}

func groupField(name, suffix string) string {
	return "group[" + name + "]." + suffix
}

func weightField(group string) string {
	return FieldGroupWeights + "[" + group + "]"
}

func (s *Store) reject(field string, code Code, message string, holds func(*Store) bool) {
	s.rejections[field] = rejection{issue: issue{code: code, message: message}, holds: holds, rev: s.revision + 1}
}

// pruneRejections runs before the revision moves, so a predicate-less
// rejection survives only the commit that recorded it.
func (s *Store) pruneRejections() {
	for field, r := range s.rejections {
		switch {
		case r.holds == nil && r.rev <= s.revision:
			delete(s.rejections, field)
		case r.holds != nil && !r.holds(s):
			delete(s.rejections, field)
		}
	}
}

// Errors returns every current validation error keyed by field id. The map is
// empty when the document is valid.
func (s *Store) Errors() map[string]string {
	issues := s.issues()
	out := make(map[string]string, len(issues))
	for field, is := range issues {
		out[field] = is.message
	}
	return out
}

// ErrorCodes returns the code of every current validation error.
func (s *Store) ErrorCodes() map[string]Code {
	issues := s.issues()
	out := make(map[string]Code, len(issues))
	for field, is := range issues {
		out[field] = is.code
	}
	return out
}

// IsCanaryConfigValid reports whether Errors is empty.
func (s *Store) IsCanaryConfigValid() bool {
	return len(s.issues()) == 0
}

// VisibleErrors returns the errors the user should see: those whose field was
// touched, or all of them once the copy or save button was clicked.
func (s *Store) VisibleErrors() map[string]string {
	return s.visible(s.Errors())
}

func (s *Store) visible(errs map[string]string) map[string]string {
	out := make(map[string]string, len(errs))
	for field, msg := range errs {
		if s.clicked || s.touched[field] || s.touched[TouchKey(field)] {
			out[field] = msg
		}
	}
	return out
}

// TouchKey maps a field id to the touch key that gates its display.
func TouchKey(field string) string {
	switch {
	case field == FieldName:
		return TouchName
	case field == "description":
		return TouchDescription
	case strings.HasPrefix(field, FieldGroupWeights):
		return TouchGroupWeights
	case strings.HasPrefix(field, "metric"):
		return TouchMetrics
	case strings.HasPrefix(field, "group["):
		return TouchGroups
	default:
		return field
	}
}

// SortedFields returns the keys of errs in a stable order.
func SortedFields(errs map[string]string) []string {
	out := make([]string, 0, len(errs))
	for k := range errs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) issues() map[string]issue {
	out := make(map[string]issue)
	if strings.TrimSpace(s.doc.Name) == "" {
		out[FieldName] = issue{CodeRequired, "Name is required"}
	}
	if len(s.doc.Metrics) == 0 {
		out[FieldMetrics] = issue{CodeRequired, "At least one metric is required"}
	}

	seen := make(map[string]int, len(s.doc.Metrics))
	for i, m := range s.doc.Metrics {
		name := strings.TrimSpace(m.Name)
		switch first, dup := seen[name]; {
		case name == "":
			out[metricField(i, "name")] = issue{CodeRequired, "Metric name is required"}
		case dup:
			out[metricField(i, "name")] = issue{CodeDuplicateMetricName, fmt.Sprintf("Metric name %q is already used by metric %d", name, first+1)}
		default:
			seen[name] = i
		}
		if len(cleanGroups(m.Groups)) == 0 {
			out[metricField(i, "groups")] = issue{CodeRequired, "Metric must belong to at least one group"}
		}
		analysis := m.AnalysisConfigurations.Canary
		switch analysis.Direction {
		case "", canary.DirectionIncrease, canary.DirectionDecrease, canary.DirectionEither:
		default:
			out[metricField(i, "analysisConfigurations.canary.direction")] = issue{CodeInvalidValue, fmt.Sprintf("Unknown direction %q", analysis.Direction)}
		}
		switch analysis.NanStrategy {
		case "", canary.NanStrategyRemove, canary.NanStrategyReplace:
		default:
			out[metricField(i, "analysisConfigurations.canary.nanStrategy")] = issue{CodeInvalidValue, fmt.Sprintf("Unknown NaN strategy %q", analysis.NanStrategy)}
		}
	}

	groups := s.SyntheticGroups()
	for _, g := range groups {
		if !s.groupHasMetrics(g) {
			out[groupField(g, "metrics")] = issue{CodeEmptyGroup, fmt.Sprintf("Group %q has no metrics", g)}
		}
	}

	if explicit := explicitWeightSum(s.doc.Classifier.GroupWeights); explicit > TotalWeight+weightTolerance {
		out[FieldGroupWeights] = issue{CodeWeightOverflow, fmt.Sprintf("Group weights add up to %g, which exceeds %g", explicit, TotalWeight)}
	} else if len(groups) > 0 {
		total := 0.0
		for _, w := range s.ComputedGroupWeights() {
			total += w
		}
		if math.Abs(total-TotalWeight) > weightTolerance {
			out[FieldGroupWeights] = issue{CodeWeightSum, fmt.Sprintf("Group weights must add up to %g (currently %g)", TotalWeight, total)}
		}
	}

	for field, r := range s.rejections {
		if r.holds == nil || r.holds(s) {
			out[field] = r.issue
		}
	}
	return out
}

package editor

import (
	"fmt"
	"strings"

	"github.com/refereehq/referee/core/canary"
)

// CreateOrUpdateMetric appends newMetric, or replaces existing in place when
// existing is non-nil. Metric names must stay unique: a collision is reported
// on the new name and the document is left unchanged.
func (s *Store) CreateOrUpdateMetric(newMetric canary.Metric, existing *canary.Metric) {
	idx := -1
	if existing != nil {
		idx = s.metricIndex(existing.Name)
		if idx < 0 {
			return
		}
	}

	m := newMetric.Clone()
	m.Name = strings.TrimSpace(m.Name)
	m.Groups = cleanGroups(m.Groups)
	if len(m.Groups) == 0 && s.selectedGroup != "" {
		m.Groups = []string{s.selectedGroup}
	}

	if m.Name == "" {
		s.reject(FieldMetricName, CodeRequired, "Metric name is required", nil)
		s.commit()
		return
	}
	for i, other := range s.doc.Metrics {
		if i == idx || other.Name != m.Name {
			continue
		}
		name := m.Name
		s.reject(metricNameField(name), CodeDuplicateMetricName, fmt.Sprintf("A metric named %q already exists", name), func(st *Store) bool {
			return st.metricIndex(name) >= 0
		})
		s.commit()
		return
	}

	if idx >= 0 {
		s.doc.Metrics[idx] = m
	} else {
		s.doc.Metrics = append(s.doc.Metrics, m)
	}
	for field := range s.rejections {
		if field == FieldMetricName || strings.HasPrefix(field, "metric[") {
			delete(s.rejections, field)
		}
	}
	s.commit()
}

// CopyMetric inserts a duplicate of the named metric right after it, under the
// first free "<name>-copy", "<name>-copy-2", ... name.
func (s *Store) CopyMetric(name string) {
	idx := s.metricIndex(name)
	if idx < 0 {
		return
	}
	cp := s.doc.Metrics[idx].Clone()
	base := name + "-copy"
	cp.Name = base
	for n := 2; s.metricIndex(cp.Name) >= 0; n++ {
		cp.Name = fmt.Sprintf("%s-%d", base, n)
	}
	metrics := make([]canary.Metric, 0, len(s.doc.Metrics)+1)
	metrics = append(metrics, s.doc.Metrics[:idx+1]...)
	metrics = append(metrics, cp)
	metrics = append(metrics, s.doc.Metrics[idx+1:]...)
	s.doc.Metrics = metrics
	s.commit()
}

// DeleteMetric removes the first metric with the given name. Unknown names are
// ignored.
func (s *Store) DeleteMetric(name string) {
	idx := s.metricIndex(name)
	if idx < 0 {
		return
	}
	s.doc.Metrics = append(s.doc.Metrics[:idx], s.doc.Metrics[idx+1:]...)
	s.commit()
}

func (s *Store) metricIndex(name string) int {
	for i, m := range s.doc.Metrics {
		if m.Name == name {
			return i
		}
	}
	return -1
}

func cleanGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

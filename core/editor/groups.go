package editor

import (
	"fmt"
	"sort"
	"strings"
)

// SyntheticGroups returns every group name known to the document: metric
// memberships in first-appearance order, then explicit weight keys, then groups
// created in the editor that nothing references yet.
func (s *Store) SyntheticGroups() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	add := func(g string) {
		if g == "" || seen[g] {
			return
		}
		seen[g] = true
		out = append(out, g)
	}
	for _, m := range s.doc.Metrics {
		for _, g := range m.Groups {
			add(g)
		}
	}
	keys := make([]string, 0, len(s.doc.Classifier.GroupWeights))
	for k := range s.doc.Classifier.GroupWeights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k)
	}
	for _, g := range s.createdGroups {
		add(g)
	}
	return out
}

func (s *Store) groupExists(name string) bool {
	if name == "" {
		return false
	}
	for _, g := range s.SyntheticGroups() {
		if g == name {
			return true
		}
	}
	return false
}

func (s *Store) groupHasMetrics(name string) bool {
	for _, m := range s.doc.Metrics {
		if m.HasGroup(name) {
			return true
		}
	}
	return false
}

// UpdateSelectedGroup makes name the active group. Unknown names are ignored.
func (s *Store) UpdateSelectedGroup(name string) {
	if !s.groupExists(name) || s.selectedGroup == name {
		return
	}
	s.selectedGroup = name
	s.commit()
}

// CreateNewGroup adds the first unused "group N" name without an explicit
// weight and selects it.
func (s *Store) CreateNewGroup() {
	existing := make(map[string]bool)
	for _, g := range s.SyntheticGroups() {
		existing[g] = true
	}
	name := ""
	for n := 1; ; n++ {
		name = fmt.Sprintf("group %d", n)
		if !existing[name] {
			break
		}
	}
	s.createdGroups = append(s.createdGroups, name)
	s.selectedGroup = name
	s.commit()
}

// ToggleEditCurrentGroup flips the edit flag of the selected group. Without a
// selection there is nothing to edit and the call is ignored.
func (s *Store) ToggleEditCurrentGroup() {
	if s.selectedGroup == "" {
		return
	}
	s.isEditCurGroup = !s.isEditCurGroup
	s.commit()
}

// RemoveSyntheticGroup deletes a group and its weight. Metrics that belonged
// only to the removed group move to the ungrouped bucket.
func (s *Store) RemoveSyntheticGroup(name string) {
	if !s.groupExists(name) {
		return
	}
	for i := range s.doc.Metrics {
		m := &s.doc.Metrics[i]
		if !m.HasGroup(name) {
			continue
		}
		remaining := without(m.Groups, name)
		if len(remaining) == 0 {
			if name == s.ungrouped {
				continue
			}
			remaining = []string{s.ungrouped}
		}
		m.Groups = remaining
	}
	delete(s.doc.Classifier.GroupWeights, name)
	s.createdGroups = without(s.createdGroups, name)
	delete(s.rejections, groupField(name, "name"))
	delete(s.rejections, weightField(name))

	if s.selectedGroup == name || !s.groupExists(s.selectedGroup) {
		s.selectedGroup = ""
		s.isEditCurGroup = false
		if groups := s.SyntheticGroups(); len(groups) > 0 {
			s.selectedGroup = groups[0]
		}
	}
	s.commit()
}

// UpdateGroupName renames a group everywhere it is referenced. An empty or
// already used new name is rejected with a field error on the old group.
func (s *Store) UpdateGroupName(oldName, newName string) {
	if !s.groupExists(oldName) {
		return
	}
	field := groupField(oldName, "name")
	newName = strings.TrimSpace(newName)
	if newName == oldName {
		if _, ok := s.rejections[field]; ok {
			delete(s.rejections, field)
			s.commit()
		}
		return
	}
	if newName == "" {
		s.reject(field, CodeRequired, "Group name is required", func(st *Store) bool {
			return st.groupExists(oldName)
		})
		s.commit()
		return
	}
	if s.groupExists(newName) {
		s.reject(field, CodeDuplicateGroupName, fmt.Sprintf("A group named %q already exists", newName), func(st *Store) bool {
			return st.groupExists(oldName) && st.groupExists(newName)
		})
		s.commit()
		return
	}

	for i := range s.doc.Metrics {
		m := &s.doc.Metrics[i]
		for j, g := range m.Groups {
			if g == oldName {
				m.Groups[j] = newName
			}
		}
	}
	if w, ok := s.doc.Classifier.GroupWeights[oldName]; ok {
		delete(s.doc.Classifier.GroupWeights, oldName)
		s.doc.Classifier.GroupWeights[newName] = w
	}
	for i, g := range s.createdGroups {
		if g == oldName {
			s.createdGroups[i] = newName
		}
	}
	if s.selectedGroup == oldName {
		s.selectedGroup = newName
	}
	delete(s.rejections, field)
	delete(s.rejections, weightField(oldName))
	s.commit()
}

func without(in []string, drop string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}

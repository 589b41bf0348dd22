package editor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/refereehq/referee/core/canary"
)

func metric(name string, groups ...string) canary.Metric {
	return canary.Metric{
		Name:   name,
		Groups: groups,
		Query:  map[string]any{"type": "prometheus", "metricName": name},
		AnalysisConfigurations: canary.AnalysisConfigurations{Canary: canary.Analysis{
			Direction:   canary.DirectionIncrease,
			NanStrategy: canary.NanStrategyRemove,
		}},
	}
}

func validConfig() canary.Config {
	cfg := canary.NewConfig(canary.Template{})
	cfg.Name = "checkout"
	cfg.Metrics = []canary.Metric{
		metric("latency", "system"),
		metric("errors", "system", "requests"),
		metric("cpu", "resources"),
	}
	return cfg
}

func sum(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

func TestCreateNewGroupTwiceSplitsWeightEvenly(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	s.CreateNewGroup()
	s.CreateNewGroup()

	groups := s.SyntheticGroups()
	if len(groups) != 2 || groups[0] != "group 1" || groups[1] != "group 2" {
		t.Fatalf("unexpected groups: %v", groups)
	}
	weights := s.ComputedGroupWeights()
	if weights["group 1"] != 50 || weights["group 2"] != 50 {
		t.Fatalf("expected 50/50, got %v", weights)
	}
	if s.SelectedGroup() != "group 2" {
		t.Fatalf("expected newest group selected, got %q", s.SelectedGroup())
	}
	if len(s.CanaryConfig().Classifier.GroupWeights) != 0 {
		t.Fatalf("new groups must not get explicit weights")
	}
}

func TestCreateNewGroupSkipsUsedNames(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics[0].Groups = []string{"group 1"}
	s := New(cfg)
	s.CreateNewGroup()
	if s.SelectedGroup() != "group 2" {
		t.Fatalf("expected group 2, got %q", s.SelectedGroup())
	}
}

func TestDuplicateMetricNameIsRejected(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	s.CreateOrUpdateMetric(canary.Metric{Name: "latency"}, nil)
	s.CreateOrUpdateMetric(canary.Metric{Name: "latency"}, nil)

	cfg := s.CanaryConfig()
	if len(cfg.Metrics) != 1 || cfg.Metrics[0].Name != "latency" {
		t.Fatalf("expected exactly one latency metric, got %+v", cfg.Metrics)
	}
	if code := s.ErrorCodes()["metric[latency]"]; code != CodeDuplicateMetricName {
		t.Fatalf("expected duplicate metric error, got %v", s.ErrorCodes())
	}
	if s.IsCanaryConfigValid() {
		t.Fatalf("store must be invalid with a pending duplicate")
	}
}

func TestDuplicateMetricErrorDropsWhenOriginalDeleted(t *testing.T) {
	s := New(validConfig())
	s.CreateOrUpdateMetric(metric("cpu", "system"), nil)
	if _, ok := s.Errors()["metric[cpu]"]; !ok {
		t.Fatalf("expected duplicate error")
	}
	s.DeleteMetric("cpu")
	if _, ok := s.Errors()["metric[cpu]"]; ok {
		t.Fatalf("duplicate error should drop once cpu is gone")
	}
}

func TestUpdateMetricInPlace(t *testing.T) {
	s := New(validConfig())
	existing := s.CanaryConfig().Metrics[1]
	updated := existing.Clone()
	updated.Name = "error-rate"
	s.CreateOrUpdateMetric(updated, &existing)

	cfg := s.CanaryConfig()
	if len(cfg.Metrics) != 3 || cfg.Metrics[1].Name != "error-rate" {
		t.Fatalf("expected rename in place, got %+v", cfg.Metrics)
	}

	// Renaming onto another metric collides.
	clash := cfg.Metrics[1].Clone()
	clash.Name = "latency"
	before := s.CanaryConfig()
	s.CreateOrUpdateMetric(clash, &cfg.Metrics[1])
	if after := s.CanaryConfig(); after.Metrics[1].Name != before.Metrics[1].Name {
		t.Fatalf("collision must leave document unchanged")
	}

	// Keeping the same name is not a collision with itself.
	same := cfg.Metrics[0].Clone()
	same.ScopeName = "global"
	s.CreateOrUpdateMetric(same, &cfg.Metrics[0])
	if s.CanaryConfig().Metrics[0].ScopeName != "global" {
		t.Fatalf("expected in place update")
	}

	ghost := canary.Metric{Name: "ghost"}
	rev := s.Revision()
	s.CreateOrUpdateMetric(metric("x", "system"), &ghost)
	if s.Revision() != rev {
		t.Fatalf("update of unknown metric must be a no-op")
	}
}

func TestNewMetricJoinsSelectedGroup(t *testing.T) {
	s := New(validConfig())
	s.UpdateSelectedGroup("resources")
	s.CreateOrUpdateMetric(canary.Metric{Name: "memory"}, nil)
	cfg := s.CanaryConfig()
	last := cfg.Metrics[len(cfg.Metrics)-1]
	if len(last.Groups) != 1 || last.Groups[0] != "resources" {
		t.Fatalf("expected metric in selected group, got %v", last.Groups)
	}
}

func TestEmptyMetricNameRejected(t *testing.T) {
	s := New(validConfig())
	s.CreateOrUpdateMetric(canary.Metric{Name: "  "}, nil)
	if len(s.CanaryConfig().Metrics) != 3 {
		t.Fatalf("empty metric must not be added")
	}
	if s.ErrorCodes()[FieldMetricName] != CodeRequired {
		t.Fatalf("expected metric.name error, got %v", s.Errors())
	}
	s.CreateOrUpdateMetric(metric("memory", "resources"), nil)
	if _, ok := s.Errors()[FieldMetricName]; ok {
		t.Fatalf("successful create should clear metric.name rejection")
	}
}

func TestEmptyMetricNameRejectionClearsOnNextChange(t *testing.T) {
	s := New(validConfig())
	s.CreateOrUpdateMetric(canary.Metric{Name: "  "}, nil)
	if s.IsCanaryConfigValid() {
		t.Fatalf("expected metric.name error right after the blank submit")
	}
	s.UpdateConfigName("checkout-v2")
	s.DeleteMetric("cpu")
	s.CreateNewGroup()
	s.RemoveSyntheticGroup("group 1")
	if !s.IsCanaryConfigValid() {
		t.Fatalf("stale rejection after unrelated edits: %v", s.Errors())
	}
}

func TestNoOpKeepsEmptyMetricNameRejection(t *testing.T) {
	s := New(validConfig())
	s.CreateOrUpdateMetric(canary.Metric{Name: ""}, nil)
	s.DeleteMetric("missing")
	s.UpdateSelectedGroup("missing")
	if s.ErrorCodes()[FieldMetricName] != CodeRequired {
		t.Fatalf("no-op calls must not clear the rejection: %v", s.Errors())
	}
}

func TestBlankGroupMembershipIsNotAGroup(t *testing.T) {
	cfg := canary.NewConfig(canary.Template{})
	cfg.Name = "checkout"
	cfg.Metrics = []canary.Metric{
		{Name: "latency", Groups: []string{""}},
		{Name: "errors", Groups: []string{" requests ", "requests", " "}},
	}
	s := New(cfg)
	got := s.CanaryConfig()
	if len(got.Metrics[0].Groups) != 0 {
		t.Fatalf("blank membership should be dropped, got %q", got.Metrics[0].Groups)
	}
	if g := got.Metrics[1].Groups; len(g) != 1 || g[0] != "requests" {
		t.Fatalf("memberships should be trimmed and de-duplicated, got %q", g)
	}
	if s.ErrorCodes()["metric[0].groups"] != CodeRequired || s.IsCanaryConfigValid() {
		t.Fatalf("metric without a real group must be invalid: %v", s.Errors())
	}
}

func TestToggleEditWithoutSelectionIsNoOp(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	calls := 0
	s.Subscribe(func(State) { calls++ })
	s.ToggleEditCurrentGroup()
	if s.IsEditCurGroup() || s.Revision() != 0 || calls != 0 {
		t.Fatalf("toggle without a selected group must be ignored: edit=%t rev=%d calls=%d", s.IsEditCurGroup(), s.Revision(), calls)
	}
}

func TestDeleteMetricIsIdempotent(t *testing.T) {
	s := New(validConfig())
	s.DeleteMetric("latency")
	rev := s.Revision()
	calls := 0
	s.Subscribe(func(State) { calls++ })
	s.DeleteMetric("latency")
	if s.Revision() != rev || calls != 0 {
		t.Fatalf("second delete must be a silent no-op")
	}
	if len(s.CanaryConfig().Metrics) != 2 {
		t.Fatalf("unexpected metrics: %+v", s.CanaryConfig().Metrics)
	}
}

func TestDeleteMetricRemovesFirstMatchOnly(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = append(cfg.Metrics, metric("latency", "resources"))
	s := New(cfg)
	s.DeleteMetric("latency")
	got := s.CanaryConfig().Metrics
	if len(got) != 3 || got[2].Name != "latency" || got[2].Groups[0] != "resources" {
		t.Fatalf("expected only first latency removed, got %+v", got)
	}
}

func TestCopyMetric(t *testing.T) {
	s := New(validConfig())
	s.CopyMetric("latency")
	s.CopyMetric("latency")
	names := []string{}
	for _, m := range s.CanaryConfig().Metrics {
		names = append(names, m.Name)
	}
	want := []string{"latency", "latency-copy-2", "latency-copy", "errors", "cpu"}
	if len(names) != len(want) {
		t.Fatalf("unexpected metrics: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected metrics: %v", names)
		}
	}
	if s.IsCanaryConfigValid() != (len(s.Errors()) == 0) || !s.IsCanaryConfigValid() {
		t.Fatalf("copies must keep the document valid: %v", s.Errors())
	}

	rev := s.Revision()
	s.CopyMetric("missing")
	if s.Revision() != rev {
		t.Fatalf("copy of unknown metric must be a no-op")
	}
}

func TestRenameGroupUpdatesAllReferences(t *testing.T) {
	cfg := validConfig()
	cfg.Classifier.GroupWeights = map[string]float64{"system": 60}
	s := New(cfg)
	s.UpdateGroupName("system", "platform")

	got := s.CanaryConfig()
	for _, m := range got.Metrics {
		if m.HasGroup("system") {
			t.Fatalf("metric %s still references old group", m.Name)
		}
	}
	if !got.Metrics[0].HasGroup("platform") || !got.Metrics[1].HasGroup("platform") {
		t.Fatalf("rename not propagated: %+v", got.Metrics)
	}
	if _, ok := got.Classifier.GroupWeights["system"]; ok || got.Classifier.GroupWeights["platform"] != 60 {
		t.Fatalf("weight not moved: %v", got.Classifier.GroupWeights)
	}
	if s.SelectedGroup() != "platform" {
		t.Fatalf("selection not renamed: %q", s.SelectedGroup())
	}
}

func TestRenameGroupRejections(t *testing.T) {
	s := New(validConfig())
	before := s.CanaryConfig()

	s.UpdateGroupName("system", "resources")
	if s.ErrorCodes()["group[system].name"] != CodeDuplicateGroupName {
		t.Fatalf("expected duplicate group error, got %v", s.Errors())
	}
	s.UpdateGroupName("system", "")
	if s.ErrorCodes()["group[system].name"] != CodeRequired {
		t.Fatalf("expected required error, got %v", s.Errors())
	}
	if after := s.CanaryConfig(); after.Metrics[0].Groups[0] != before.Metrics[0].Groups[0] {
		t.Fatalf("rejected rename must not change the document")
	}

	s.UpdateGroupName("system", "system")
	if _, ok := s.Errors()["group[system].name"]; ok {
		t.Fatalf("renaming to itself should clear the rejection")
	}

	rev := s.Revision()
	s.UpdateGroupName("nope", "other")
	if s.Revision() != rev {
		t.Fatalf("rename of unknown group must be a no-op")
	}
}

func TestComputedWeightsSumTo100(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	groups := []string{"a", "b", "c", "d", "e"}
	for trial := 0; trial < 200; trial++ {
		cfg := canary.NewConfig(canary.Template{})
		cfg.Name = "p"
		for _, g := range groups {
			cfg.Metrics = append(cfg.Metrics, metric("m-"+g, g))
		}
		s := New(cfg)

		// Leave at least one group without an explicit weight.
		explicit := rng.Intn(len(groups))
		budget := 100.0
		for _, g := range groups[:explicit] {
			w := rng.Float64() * budget
			budget -= w
			s.UpdateGroupWeight(g, w)
		}
		total := sum(s.ComputedGroupWeights())
		if math.Abs(total-100) > 1e-6 {
			t.Fatalf("trial %d: weights sum to %v", trial, total)
		}
		for _, w := range s.ComputedGroupWeights() {
			if w < 0 {
				t.Fatalf("negative computed weight")
			}
		}
	}
}

func TestComputedWeightsKeepExplicitValues(t *testing.T) {
	s := New(validConfig())
	s.UpdateGroupWeight("system", 40)
	w := s.ComputedGroupWeights()
	if w["system"] != 40 || w["requests"] != 30 || w["resources"] != 30 {
		t.Fatalf("unexpected weights: %v", w)
	}
	s.UpdateGroupWeight("requests", 20)
	s.UpdateGroupWeight("resources", 40)
	if got := s.ComputedGroupWeights(); sum(got) != 100 || got["resources"] != 40 {
		t.Fatalf("unexpected weights: %v", got)
	}
	if !s.IsCanaryConfigValid() {
		t.Fatalf("expected valid config: %v", s.Errors())
	}
}

func TestWeightOverflowClampsAndReports(t *testing.T) {
	s := New(validConfig())
	s.UpdateGroupWeight("system", 80)
	s.UpdateGroupWeight("requests", 70)
	w := s.ComputedGroupWeights()
	if w["resources"] != 0 {
		t.Fatalf("expected clamped share, got %v", w)
	}
	if s.ErrorCodes()[FieldGroupWeights] != CodeWeightOverflow {
		t.Fatalf("expected overflow error, got %v", s.Errors())
	}
}

// When every group carries an explicit weight there is nothing left to
// redistribute, so the effective weights cannot be forced to sum to 100 without
// rewriting what the user typed. The weights stay verbatim and the shortfall is
// reported as a validation error instead.
func TestAllExplicitWeightsNotSummingTo100(t *testing.T) {
	s := New(validConfig())
	s.UpdateGroupWeight("system", 10)
	s.UpdateGroupWeight("requests", 10)
	s.UpdateGroupWeight("resources", 10)
	if got := s.ComputedGroupWeights(); got["system"] != 10 || sum(got) != 30 {
		t.Fatalf("explicit weights must stay verbatim: %v", got)
	}
	if s.ErrorCodes()[FieldGroupWeights] != CodeWeightSum {
		t.Fatalf("expected weight sum error, got %v", s.Errors())
	}
}

func TestInvalidWeightRejected(t *testing.T) {
	s := New(validConfig())
	for _, w := range []float64{-1, math.NaN(), math.Inf(1)} {
		s.UpdateGroupWeight("system", w)
		if s.ErrorCodes()["classifier.groupWeights[system]"] != CodeInvalidWeight {
			t.Fatalf("expected invalid weight for %v", w)
		}
		if _, ok := s.CanaryConfig().Classifier.GroupWeights["system"]; ok {
			t.Fatalf("invalid weight must not be stored")
		}
	}
	s.UpdateGroupWeightText("system", "abc")
	if _, ok := s.Errors()["classifier.groupWeights[system]"]; !ok {
		t.Fatalf("expected text rejection")
	}
	s.UpdateGroupWeightText("system", " 25 ")
	if _, ok := s.Errors()["classifier.groupWeights[system]"]; ok {
		t.Fatalf("valid weight should clear rejection")
	}
	if s.CanaryConfig().Classifier.GroupWeights["system"] != 25 {
		t.Fatalf("expected parsed weight")
	}

	rev := s.Revision()
	s.UpdateGroupWeight("unknown", 10)
	if s.Revision() != rev {
		t.Fatalf("unknown group must be a no-op")
	}
}

func TestRemoveGroupReassignsOrphans(t *testing.T) {
	cfg := validConfig()
	cfg.Classifier.GroupWeights = map[string]float64{"resources": 20}
	s := New(cfg)
	s.UpdateSelectedGroup("resources")
	s.ToggleEditCurrentGroup()
	s.RemoveSyntheticGroup("resources")

	got := s.CanaryConfig()
	if len(got.Metrics) != 3 {
		t.Fatalf("metrics must never be dropped")
	}
	if g := got.Metrics[2].Groups; len(g) != 1 || g[0] != DefaultUngroupedGroup {
		t.Fatalf("expected cpu in ungrouped bucket, got %v", g)
	}
	if _, ok := got.Classifier.GroupWeights["resources"]; ok {
		t.Fatalf("weight key should be removed")
	}
	if s.SelectedGroup() != "system" || s.IsEditCurGroup() {
		t.Fatalf("selection should move to first group with edit cleared, got %q %v", s.SelectedGroup(), s.IsEditCurGroup())
	}

	s.RemoveSyntheticGroup("requests")
	if g := s.CanaryConfig().Metrics[1].Groups; len(g) != 1 || g[0] != "system" {
		t.Fatalf("multi-group metric should keep its other group, got %v", g)
	}

	s.RemoveSyntheticGroup(DefaultUngroupedGroup)
	if g := s.CanaryConfig().Metrics[2].Groups; len(g) != 1 || g[0] != DefaultUngroupedGroup {
		t.Fatalf("removing the bucket must not orphan metrics, got %v", g)
	}

	rev := s.Revision()
	s.RemoveSyntheticGroup("missing")
	if s.Revision() != rev {
		t.Fatalf("removing unknown group must be a no-op")
	}
}

func TestCustomUngroupedBucket(t *testing.T) {
	s := New(validConfig(), WithUngroupedGroup("misc"))
	s.RemoveSyntheticGroup("resources")
	if g := s.CanaryConfig().Metrics[2].Groups; g[0] != "misc" {
		t.Fatalf("expected custom bucket, got %v", g)
	}
}

func TestRemoveCreatedGroup(t *testing.T) {
	s := New(validConfig())
	s.CreateNewGroup()
	if _, ok := s.Errors()["group[group 1].metrics"]; !ok {
		t.Fatalf("empty created group should be reported")
	}
	s.RemoveSyntheticGroup("group 1")
	for _, g := range s.SyntheticGroups() {
		if g == "group 1" {
			t.Fatalf("created group not removed")
		}
	}
	if !s.IsCanaryConfigValid() {
		t.Fatalf("expected valid config: %v", s.Errors())
	}
}

func TestSyntheticGroupOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Classifier.GroupWeights = map[string]float64{"zeta": 0, "alpha": 0}
	s := New(cfg)
	s.CreateNewGroup()
	want := []string{"system", "requests", "resources", "alpha", "zeta", "group 1"}
	got := s.SyntheticGroups()
	if len(got) != len(want) {
		t.Fatalf("unexpected groups: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected groups: %v", got)
		}
	}
}

func TestSelectUnknownGroupIsNoop(t *testing.T) {
	s := New(validConfig())
	if s.SelectedGroup() != "system" {
		t.Fatalf("expected first group selected initially, got %q", s.SelectedGroup())
	}
	rev := s.Revision()
	s.UpdateSelectedGroup("missing")
	if s.SelectedGroup() != "system" || s.Revision() != rev {
		t.Fatalf("unknown selection must be ignored")
	}
}

func TestValidationRules(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	errs := s.Errors()
	if _, ok := errs[FieldName]; !ok {
		t.Fatalf("expected name error")
	}
	if _, ok := errs[FieldMetrics]; !ok {
		t.Fatalf("expected metrics error")
	}

	cfg := validConfig()
	cfg.Metrics = append(cfg.Metrics, canary.Metric{Name: "latency"})
	cfg.Metrics[0].AnalysisConfigurations.Canary.Direction = "sideways"
	cfg.Metrics[1].AnalysisConfigurations.Canary.NanStrategy = "ignore"
	s.SetCanaryConfigObject(cfg)
	codes := s.ErrorCodes()
	cases := map[string]Code{
		"metric[3].name":   CodeDuplicateMetricName,
		"metric[3].groups": CodeRequired,
		"metric[0].analysisConfigurations.canary.direction":   CodeInvalidValue,
		"metric[1].analysisConfigurations.canary.nanStrategy": CodeInvalidValue,
	}
	for field, want := range cases {
		if codes[field] != want {
			t.Fatalf("field %s: want %s got %q (all: %v)", field, want, codes[field], codes)
		}
	}
	if _, ok := codes[FieldName]; ok {
		t.Fatalf("name is set")
	}
}

func TestValidityMatchesErrorsAcrossOperations(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	check := func(step string) {
		t.Helper()
		if s.IsCanaryConfigValid() != (len(s.Errors()) == 0) {
			t.Fatalf("%s: validity disagrees with errors %v", step, s.Errors())
		}
		st := s.GetState()
		if st.IsCanaryConfigValid != (len(st.Errors) == 0) {
			t.Fatalf("%s: state validity disagrees with errors", step)
		}
	}
	check("empty")
	s.UpdateConfigName("cfg")
	check("name")
	s.CreateNewGroup()
	check("group")
	s.CreateOrUpdateMetric(canary.Metric{Name: "latency"}, nil)
	check("metric")
	s.CreateOrUpdateMetric(canary.Metric{Name: "latency"}, nil)
	check("duplicate")
	s.UpdateGroupWeight("group 1", 100)
	check("weight")
	s.UpdateGroupName("group 1", "")
	check("rename")
	s.DeleteMetric("latency")
	check("delete")
}

func TestVisibleErrorsGating(t *testing.T) {
	s := New(canary.NewConfig(canary.Template{}))
	if len(s.VisibleErrors()) != 0 {
		t.Fatalf("nothing touched, nothing visible: %v", s.VisibleErrors())
	}
	s.UpdateConfigName("")
	vis := s.VisibleErrors()
	if _, ok := vis[FieldName]; !ok || len(vis) != 1 {
		t.Fatalf("expected only name error visible, got %v", vis)
	}
	s.Touch(TouchMetrics)
	if _, ok := s.VisibleErrors()[FieldMetrics]; !ok {
		t.Fatalf("metrics error should be visible after touch")
	}
	s.CreateNewGroup()
	if _, ok := s.VisibleErrors()["group[group 1].metrics"]; ok {
		t.Fatalf("group error should stay hidden until groups are touched")
	}
	s.MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue()
	if len(s.VisibleErrors()) != len(s.Errors()) {
		t.Fatalf("latch should reveal every error")
	}
}

func TestTouchKey(t *testing.T) {
	cases := map[string]string{
		"name":                       TouchName,
		"metric[2].groups":           TouchMetrics,
		"metric.name":                TouchMetrics,
		"group[a].name":              TouchGroups,
		"classifier.groupWeights":    TouchGroupWeights,
		"classifier.groupWeights[a]": TouchGroupWeights,
		"something":                  "something",
	}
	for field, want := range cases {
		if got := TouchKey(field); got != want {
			t.Fatalf("TouchKey(%q) = %q, want %q", field, got, want)
		}
	}
}

func TestSubscribeNotifiesOncePerMutation(t *testing.T) {
	s := New(validConfig())
	var seen []State
	unsubscribe := s.Subscribe(func(st State) { seen = append(seen, st) })

	s.UpdateConfigName("renamed")
	s.UpdateConfigName("renamed")
	s.Touch("groups")
	s.Touch("groups")
	s.MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue()
	s.MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue()
	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(seen))
	}
	if seen[0].CanaryConfig.Name != "renamed" || seen[0].Revision+2 != seen[2].Revision {
		t.Fatalf("unexpected snapshots: %+v", seen[0])
	}

	unsubscribe()
	s.ToggleEditCurrentGroup()
	if len(seen) != 3 {
		t.Fatalf("unsubscribed listener was called")
	}
}

func TestSubscribeOrder(t *testing.T) {
	s := New(validConfig())
	var order []int
	s.Subscribe(func(State) { order = append(order, 1) })
	drop := s.Subscribe(func(State) { order = append(order, 2) })
	s.Subscribe(func(State) { order = append(order, 3) })
	drop()
	s.ToggleEditCurrentGroup()
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestGetStateIsDetached(t *testing.T) {
	s := New(validConfig())
	st := s.GetState()
	st.CanaryConfig.Metrics[0].Groups[0] = "mutated"
	st.CanaryConfig.Classifier.GroupWeights["x"] = 1
	st.Touched["x"] = true
	if s.CanaryConfig().Metrics[0].Groups[0] != "system" {
		t.Fatalf("snapshot shares metric groups with store")
	}
	if _, ok := s.CanaryConfig().Classifier.GroupWeights["x"]; ok {
		t.Fatalf("snapshot shares weights with store")
	}
	if len(s.Touched()) != 0 {
		t.Fatalf("snapshot shares touched set with store")
	}
}

func TestSetCanaryConfigObjectResetsEverything(t *testing.T) {
	s := New(validConfig())
	s.Touch("name")
	s.CreateNewGroup()
	s.ToggleEditCurrentGroup()
	s.UpdateGroupWeight("system", -5)
	s.MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue()

	next := validConfig()
	next.Metrics = next.Metrics[2:]
	s.SetCanaryConfigObject(next)

	st := s.GetState()
	if len(st.Touched) != 0 || st.IsEditCurGroup || st.HasTheCopyOrSaveButtonBeenClicked {
		t.Fatalf("view state carried over: %+v", st)
	}
	if len(st.SyntheticGroups) != 1 || st.SelectedGroup != "resources" {
		t.Fatalf("unexpected groups after replace: %v %q", st.SyntheticGroups, st.SelectedGroup)
	}
	if !st.IsCanaryConfigValid {
		t.Fatalf("rejections carried over: %v", st.Errors)
	}

	next.Metrics[0].Name = "changed"
	if s.CanaryConfig().Metrics[0].Name != "cpu" {
		t.Fatalf("store must keep its own copy")
	}
}

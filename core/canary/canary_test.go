package canary

import (
	"strings"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig(Template{})
	if cfg.Judge.Name != DefaultJudgeName {
		t.Fatalf("unexpected judge: %s", cfg.Judge.Name)
	}
	if cfg.ConfigVersion != DefaultConfigVersion {
		t.Fatalf("unexpected config version: %s", cfg.ConfigVersion)
	}
	if len(cfg.Applications) != 1 || cfg.Applications[0] != DefaultApplication {
		t.Fatalf("unexpected applications: %v", cfg.Applications)
	}
	if cfg.Metrics == nil || len(cfg.Metrics) != 0 {
		t.Fatalf("expected empty metrics slice")
	}
	if cfg.Classifier.GroupWeights == nil || len(cfg.Classifier.GroupWeights) != 0 {
		t.Fatalf("expected empty group weights")
	}
}

func TestNewConfigTemplateOverrides(t *testing.T) {
	cfg := NewConfig(Template{JudgeName: "custom", ConfigVersion: "2", Applications: []string{"a", "b"}})
	if cfg.Judge.Name != "custom" || cfg.ConfigVersion != "2" || len(cfg.Applications) != 2 {
		t.Fatalf("template not applied: %+v", cfg)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Config{
		Name: "cfg",
		Metrics: []Metric{{
			Name:   "latency",
			Groups: []string{"g1"},
			Query:  map[string]any{"type": "prometheus", "labels": []any{"a"}},
			AnalysisConfigurations: AnalysisConfigurations{Canary: Analysis{
				EffectSize: &EffectSize{AllowedIncrease: 1.1},
			}},
		}},
		Classifier: Classifier{GroupWeights: map[string]float64{"g1": 100}},
	}
	cp := orig.Clone()
	cp.Metrics[0].Groups[0] = "changed"
	cp.Metrics[0].Query["type"] = "changed"
	cp.Metrics[0].AnalysisConfigurations.Canary.EffectSize.AllowedIncrease = 9
	cp.Classifier.GroupWeights["g1"] = 1

	if orig.Metrics[0].Groups[0] != "g1" {
		t.Fatalf("groups shared with clone")
	}
	if orig.Metrics[0].Query["type"] != "prometheus" {
		t.Fatalf("query shared with clone")
	}
	if orig.Metrics[0].AnalysisConfigurations.Canary.EffectSize.AllowedIncrease != 1.1 {
		t.Fatalf("effect size shared with clone")
	}
	if orig.Classifier.GroupWeights["g1"] != 100 {
		t.Fatalf("weights shared with clone")
	}
}

func TestMetricHelpers(t *testing.T) {
	m := Metric{Name: "m", Groups: []string{"a", "b"}, Query: map[string]any{"type": " datadog "}}
	if !m.HasGroup("b") || m.HasGroup("c") {
		t.Fatalf("unexpected group membership")
	}
	if m.QueryType() != "datadog" {
		t.Fatalf("unexpected query type: %q", m.QueryType())
	}
	if (Metric{}).QueryType() != "" {
		t.Fatalf("expected empty query type")
	}
}

func TestHashIgnoresMapOrder(t *testing.T) {
	a := Config{Name: "x", Classifier: Classifier{GroupWeights: map[string]float64{"a": 40, "b": 60}}}
	b := Config{Name: "x", Classifier: Classifier{GroupWeights: map[string]float64{"b": 60, "a": 40}}}
	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha != hb || len(ha) != 64 {
		t.Fatalf("expected equal sha256 hashes, got %s %s", ha, hb)
	}
	b.Name = "y"
	if hc, _ := Hash(b); hc == ha {
		t.Fatalf("expected hash to change with content")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"b": 1, "a": map[string]any{"d": 2, "c": 3}})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(out) != `{"a":{"c":3,"d":2},"b":1}` {
		t.Fatalf("unexpected canonical json: %s", out)
	}
	if !strings.HasPrefix(string(out), "{") {
		t.Fatalf("expected object")
	}
}

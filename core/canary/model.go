package canary

import "strings"

// Direction values accepted by a metric's canary analysis.
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
	DirectionEither   = "either"
)

// NaN strategies accepted by a metric's canary analysis.
const (
	NanStrategyRemove  = "remove"
	NanStrategyReplace = "replace"
)

// Config is a canary configuration document in the Kayenta wire format.
type Config struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	ConfigVersion string            `json:"configVersion,omitempty"`
	Applications  []string          `json:"applications,omitempty"`
	Judge         Judge             `json:"judge"`
	Metrics       []Metric          `json:"metrics"`
	Templates     map[string]string `json:"templates,omitempty"`
	Classifier    Classifier        `json:"classifier"`
}

// Judge selects the judge implementation used to score a canary run.
type Judge struct {
	Name                string         `json:"name"`
	JudgeConfigurations map[string]any `json:"judgeConfigurations,omitempty"`
}

// Classifier holds the scoring weight of every metric group.
type Classifier struct {
	GroupWeights map[string]float64 `json:"groupWeights"`
}

// Metric compares one time series between baseline and canary.
type Metric struct {
	Name                   string                 `json:"name"`
	Query                  map[string]any         `json:"query,omitempty"`
	Groups                 []string               `json:"groups"`
	AnalysisConfigurations AnalysisConfigurations `json:"analysisConfigurations"`
	ScopeName              string                 `json:"scopeName,omitempty"`
}

// AnalysisConfigurations wraps the per-judge analysis parameters.
type AnalysisConfigurations struct {
	Canary Analysis `json:"canary"`
}

// Analysis holds the parameters the judge applies to a single metric.
type Analysis struct {
	Direction    string      `json:"direction,omitempty"`
	NanStrategy  string      `json:"nanStrategy,omitempty"`
	Critical     bool        `json:"critical,omitempty"`
	MustHaveData bool        `json:"mustHaveData,omitempty"`
	EffectSize   *EffectSize `json:"effectSize,omitempty"`
	Outliers     *Outliers   `json:"outliers,omitempty"`
}

// EffectSize bounds the minimum change the judge treats as significant.
type EffectSize struct {
	AllowedIncrease  float64 `json:"allowedIncrease,omitempty"`
	AllowedDecrease  float64 `json:"allowedDecrease,omitempty"`
	CriticalIncrease float64 `json:"criticalIncrease,omitempty"`
	CriticalDecrease float64 `json:"criticalDecrease,omitempty"`
	Measure          string  `json:"measure,omitempty"`
}

// Outliers controls outlier removal before comparison.
type Outliers struct {
	Strategy      string  `json:"strategy,omitempty"`
	OutlierFactor float64 `json:"outlierFactor,omitempty"`
}

// QueryType returns the metric source type recorded in the query, if any.
func (m Metric) QueryType() string {
	if m.Query == nil {
		return ""
	}
	if v, ok := m.Query["type"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// HasGroup reports whether the metric is a member of group.
func (m Metric) HasGroup(group string) bool {
	for _, g := range m.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Normalize replaces nil maps and slices with empty values so the document
// always encodes with explicit containers.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.Metrics == nil {
		c.Metrics = []Metric{}
	}
	if c.Classifier.GroupWeights == nil {
		c.Classifier.GroupWeights = map[string]float64{}
	}
	for i := range c.Metrics {
		if c.Metrics[i].Groups == nil {
			c.Metrics[i].Groups = []string{}
		}
	}
}

// Clone returns a deep copy of the document.
func (c Config) Clone() Config {
	out := c
	out.Applications = cloneStrings(c.Applications)
	out.Judge.JudgeConfigurations = cloneAnyMap(c.Judge.JudgeConfigurations)
	if c.Templates != nil {
		out.Templates = make(map[string]string, len(c.Templates))
		for k, v := range c.Templates {
			out.Templates[k] = v
		}
	}
	if c.Classifier.GroupWeights != nil {
		out.Classifier.GroupWeights = make(map[string]float64, len(c.Classifier.GroupWeights))
		for k, v := range c.Classifier.GroupWeights {
			out.Classifier.GroupWeights[k] = v
		}
	}
	if c.Metrics != nil {
		out.Metrics = make([]Metric, len(c.Metrics))
		for i, m := range c.Metrics {
			out.Metrics[i] = m.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the metric.
func (m Metric) Clone() Metric {
	out := m
	out.Groups = cloneStrings(m.Groups)
	out.Query = cloneAnyMap(m.Query)
	if m.AnalysisConfigurations.Canary.EffectSize != nil {
		es := *m.AnalysisConfigurations.Canary.EffectSize
		out.AnalysisConfigurations.Canary.EffectSize = &es
	}
	if m.AnalysisConfigurations.Canary.Outliers != nil {
		o := *m.AnalysisConfigurations.Canary.Outliers
		out.AnalysisConfigurations.Canary.Outliers = &o
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneAny(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

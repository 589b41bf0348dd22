package canary

const (
	DefaultJudgeName     = "NetflixACAJudge-v1.0"
	DefaultConfigVersion = "1"
	DefaultApplication   = "ad-hoc"
)

// Template carries the defaults stamped onto a freshly created document.
type Template struct {
	JudgeName     string   `json:"judge_name" yaml:"judge_name"`
	ConfigVersion string   `json:"config_version" yaml:"config_version"`
	Applications  []string `json:"applications" yaml:"applications"`
}

// DefaultTemplate returns the built-in blank document template.
func DefaultTemplate() Template {
	return Template{
		JudgeName:     DefaultJudgeName,
		ConfigVersion: DefaultConfigVersion,
		Applications:  []string{DefaultApplication},
	}
}

// NewConfig builds a blank document: no name, no metrics and no group weights.
func NewConfig(t Template) Config {
	def := DefaultTemplate()
	if t.JudgeName == "" {
		t.JudgeName = def.JudgeName
	}
	if t.ConfigVersion == "" {
		t.ConfigVersion = def.ConfigVersion
	}
	if len(t.Applications) == 0 {
		t.Applications = def.Applications
	}
	cfg := Config{
		ConfigVersion: t.ConfigVersion,
		Applications:  cloneStrings(t.Applications),
		Judge: Judge{
			Name:                t.JudgeName,
			JudgeConfigurations: map[string]any{},
		},
		Templates: map[string]string{},
	}
	cfg.Normalize()
	return cfg
}

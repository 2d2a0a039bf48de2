package manifest

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// StdioMode names a stdio routing choice for one standard stream of a job.
type StdioMode string

const (
	// StdioInherit leaves the stream connected to the supervisor's own.
	StdioInherit StdioMode = "inherit"
	// StdioNull closes the stream slot in the child.
	StdioNull StdioMode = "null"
	// StdioPipe connects the stream to the supervisor for log capture.
	StdioPipe StdioMode = "pipe"
)

// Manifest mirrors the hatch.yaml document structure.
type Manifest struct {
	Version  string          `yaml:"version"`
	Defaults Defaults        `yaml:"defaults"`
	Jobs     map[string]*Job `yaml:"jobs"`
}

// Defaults carries settings merged onto jobs that do not set their own.
type Defaults struct {
	Restart *RestartPolicy `yaml:"restart"`
}

// Job describes one process the supervisor manages.
type Job struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Stdin       StdioMode         `yaml:"stdin"`
	Stdout      StdioMode         `yaml:"stdout"`
	Stderr      StdioMode         `yaml:"stderr"`
	Supervised  bool              `yaml:"supervised"`
	Restart     *RestartPolicy    `yaml:"restart"`
}

// RestartPolicy controls automatic restarts of a crashed job.
type RestartPolicy struct {
	MaxRetries int          `yaml:"maxRetries"`
	Backoff    *BackoffSpec `yaml:"backoff"`
}

// Clone returns a deep copy of the policy.
func (p *RestartPolicy) Clone() *RestartPolicy {
	if p == nil {
		return nil
	}
	dup := *p
	if p.Backoff != nil {
		b := *p.Backoff
		dup.Backoff = &b
	}
	return &dup
}

// BackoffSpec describes exponential backoff configuration.
type BackoffSpec struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
}

// ApplyDefaults merges manifest defaults onto jobs and fills stdio modes.
func (m *Manifest) ApplyDefaults() error {
	for name, job := range m.Jobs {
		if job == nil {
			return fmt.Errorf("job %q is null", name)
		}
		if job.Stdin == "" {
			job.Stdin = StdioNull
		}
		if job.Stdout == "" {
			job.Stdout = StdioPipe
		}
		if job.Stderr == "" {
			job.Stderr = StdioPipe
		}
		if job.Restart == nil && m.Defaults.Restart != nil {
			job.Restart = m.Defaults.Restart.Clone()
		}
	}
	return nil
}

// Validate enforces schema invariants.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if len(m.Jobs) == 0 {
		return fmt.Errorf("at least one job must be defined")
	}
	for name, job := range m.Jobs {
		if job.Command == "" {
			return fmt.Errorf("job %s missing command", name)
		}
		for field, mode := range map[string]StdioMode{
			"stdin":  job.Stdin,
			"stdout": job.Stdout,
			"stderr": job.Stderr,
		} {
			switch mode {
			case StdioInherit, StdioNull, StdioPipe:
			default:
				return fmt.Errorf("job %s has invalid %s mode %q", name, field, mode)
			}
		}
		if job.Restart != nil && job.Restart.Backoff != nil {
			if job.Restart.Backoff.Factor < 0 {
				return fmt.Errorf("job %s backoff factor must not be negative", name)
			}
			if job.Restart.Backoff.Min.Duration < 0 || job.Restart.Backoff.Max.Duration < 0 {
				return fmt.Errorf("job %s backoff durations must not be negative", name)
			}
		}
	}
	return nil
}

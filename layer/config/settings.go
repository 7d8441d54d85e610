package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

// Settings is the layer configuration file, usually vkcheck.toml next to the application.
type Settings struct {
	Report     ReportSettings     `toml:"report"`
	Validation ValidationSettings `toml:"validation"`
}

type ReportSettings struct {
	// Severities that are delivered: "error", "warning", "performance", "info".
	Severities []string `toml:"severities"`
	// Message codes that are never delivered and never cause a skip.
	Muted        []int32 `toml:"muted"`
	LogLevel     string  `toml:"log_level"`
	AbortOnError bool    `toml:"abort_on_error"`
}

type ValidationSettings struct {
	// Bytes of guard band on each side of a non-coherent mapping. 0 uses the device limit.
	ShadowGuardSize      uint64 `toml:"shadow_guard_size"`
	CheckShaders         bool   `toml:"check_shaders"`
	CheckReadBeforeWrite bool   `toml:"check_read_before_write"`
}

func Default() *Settings {
	return &Settings{
		Report: ReportSettings{
			Severities:   []string{"error", "warning", "performance"},
			LogLevel:     "info",
			AbortOnError: true,
		},
		Validation: ValidationSettings{
			CheckShaders:         true,
			CheckReadBeforeWrite: true,
		},
	}
}

// Parse decodes TOML on top of the defaults, so omitted keys keep their default value.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "decoding settings")
	}
	if _, err := s.SeverityMask(); err != nil {
		return nil, err
	}
	return s, nil
}

func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading settings %s", path)
	}
	return s, nil
}

// Encode renders the settings back to TOML.
func (s *Settings) Encode() ([]byte, error) {
	return toml.Marshal(s)
}

func (s *Settings) SeverityMask() (core.Severity, error) {
	var mask core.Severity
	for _, name := range s.Report.Severities {
		sev, ok := core.ParseSeverity(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return 0, errors.Wrapf(core.ErrInvalidSettings, "unknown severity %q", name)
		}
		mask |= sev
	}
	return mask, nil
}

// Apply pushes the report section into a reporter and the shared logger.
func (s *Settings) Apply(r *core.Reporter) {
	mask, err := s.SeverityMask()
	if err != nil {
		core.LogError("%s", err)
		mask = core.SeverityAll
	}
	r.SetFilter(mask, s.Report.Muted, s.Report.AbortOnError)
	if s.Report.LogLevel != "" {
		core.SetLogLevel(s.Report.LogLevel)
	}
}

// Package tuning holds the runtime knobs shared by the binaries: a YAML file
// overlaid by INKFORGE_* environment variables.
package tuning

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" env:"INKFORGE_PROTOCOL_VERSION"`

	Engine  Engine  `yaml:"engine"`
	Compile Compile `yaml:"compile"`
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
}

type Engine struct {
	MaxSteps int   `yaml:"max_steps" env:"INKFORGE_MAX_STEPS"`
	Seed     int64 `yaml:"seed" env:"INKFORGE_SEED"`
}

type Compile struct {
	MaxIncludeDepth int  `yaml:"max_include_depth" env:"INKFORGE_MAX_INCLUDE_DEPTH"`
	CompressGraphs  bool `yaml:"compress_graphs" env:"INKFORGE_COMPRESS_GRAPHS"`
}

type Server struct {
	Addr           string        `yaml:"addr" env:"INKFORGE_ADDR"`
	MaxSessions    int           `yaml:"max_sessions" env:"INKFORGE_MAX_SESSIONS"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"INKFORGE_IDLE_TIMEOUT"`
	ContinueBudget time.Duration `yaml:"continue_budget" env:"INKFORGE_CONTINUE_BUDGET"`
	// MaxLines caps the lines one CONTINUE returns. Zero means no cap.
	MaxLines int `yaml:"max_lines" env:"INKFORGE_MAX_LINES"`
	// ResumeSecret signs resume tokens. It is only read from the
	// environment; empty means clients resume with bare save ids.
	ResumeSecret string        `yaml:"-" env:"INKFORGE_RESUME_SECRET"`
	ResumeTTL    time.Duration `yaml:"resume_ttl" env:"INKFORGE_RESUME_TTL"`
}

type Storage struct {
	DataDir    string `yaml:"data_dir" env:"INKFORGE_DATA_DIR"`
	IndexDB    string `yaml:"index_db" env:"INKFORGE_INDEX_DB"`
	StoriesDir string `yaml:"stories_dir" env:"INKFORGE_STORIES_DIR"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Engine:          Engine{MaxSteps: 100000},
		Compile:         Compile{MaxIncludeDepth: 16, CompressGraphs: true},
		Server: Server{
			Addr:           ":8090",
			MaxSessions:    256,
			IdleTimeout:    30 * time.Minute,
			ContinueBudget: 2 * time.Second,
			MaxLines:       64,
			ResumeTTL:      7 * 24 * time.Hour,
		},
		Storage: Storage{DataDir: "data", IndexDB: "data/index.sqlite", StoriesDir: "stories"},
	}
}

// Load reads path over the defaults. An empty path skips the file.
// Environment variables win over both.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("tuning env: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) validate() error {
	switch {
	case t.Engine.MaxSteps <= 0:
		return fmt.Errorf("tuning: engine.max_steps must be positive")
	case t.Compile.MaxIncludeDepth <= 0:
		return fmt.Errorf("tuning: compile.max_include_depth must be positive")
	case t.Server.MaxSessions <= 0:
		return fmt.Errorf("tuning: server.max_sessions must be positive")
	case t.Server.MaxLines < 0:
		return fmt.Errorf("tuning: server.max_lines must not be negative")
	case t.Server.ContinueBudget <= 0:
		return fmt.Errorf("tuning: server.continue_budget must be positive")
	case t.Server.ResumeTTL <= 0:
		return fmt.Errorf("tuning: server.resume_ttl must be positive")
	}
	return nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

func newConfig(jobs map[string]JobConfig) *Config {
	cfg := &Config{ChunkSize: constants.DefaultReadChunkSize, Jobs: jobs}
	for name := range jobs {
		cfg.Order = append(cfg.Order, name)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		cfg := newConfig(map[string]JobConfig{
			"build": {Cmd: []string{"make all"}, Shell: true},
		})
		assert.NoError(t, Validate(cfg))
	})

	t.Run("chunk size out of range fails", func(t *testing.T) {
		for _, size := range []int{0, constants.MinReadChunkSize - 1, constants.MaxReadChunkSize + 1} {
			cfg := newConfig(map[string]JobConfig{"build": {Cmd: []string{"make"}}})
			cfg.ChunkSize = size
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "chunk_size")
		}
	})

	t.Run("empty jobs fails", func(t *testing.T) {
		err := Validate(newConfig(map[string]JobConfig{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one job")
	})

	t.Run("missing cmd fails", func(t *testing.T) {
		cfg := newConfig(map[string]JobConfig{
			"build": {Env: map[string]string{"CGO_ENABLED": "0"}},
		})
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jobs.build.cmd")
	})

	t.Run("reports every error", func(t *testing.T) {
		cfg := newConfig(map[string]JobConfig{
			"a": {},
			"b": {Cmd: []string{"true"}, Stderr: "null"},
		})
		err := Validate(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "jobs.a.cmd")
		assert.Contains(t, err.Error(), "jobs.b.stderr")
	})

	t.Run("negative timeout fails", func(t *testing.T) {
		cfg := newConfig(map[string]JobConfig{"a": {Cmd: []string{"true"}, Timeout: "-1s"}})
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestValidateJobName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "build", false},
		{"valid with hyphen", "unit-tests", false},
		{"valid with colon", "db:seed", false},
		{"empty", "", true},
		{"with space", "unit tests", true},
		{"with slash", "a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

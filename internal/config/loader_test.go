package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/procio/internal/domain"
)

func TestLoadEnvFile(t *testing.T) {
	t.Run("empty path returns nil", func(t *testing.T) {
		env, err := LoadEnvFile("")
		assert.NoError(t, err)
		assert.Nil(t, env)
	})

	t.Run("loads env file", func(t *testing.T) {
		dir := t.TempDir()
		envPath := filepath.Join(dir, ".env")
		err := os.WriteFile(envPath, []byte("FOO=bar\nBAZ=qux"), 0644)
		require.NoError(t, err)

		env, err := LoadEnvFile(envPath)
		require.NoError(t, err)
		assert.Equal(t, "bar", env["FOO"])
		assert.Equal(t, "qux", env["BAZ"])
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadEnvFile("nonexistent.env")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestParseEnvPairs(t *testing.T) {
	env, err := ParseEnvPairs([]string{"A=1", "B=two words", "C="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two words", "C": ""}, env)

	env, err = ParseEnvPairs(nil)
	require.NoError(t, err)
	assert.Nil(t, env)

	_, err = ParseEnvPairs([]string{"NOVALUE"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMergeEnv(t *testing.T) {
	t.Run("merges multiple maps", func(t *testing.T) {
		env1 := map[string]string{"A": "1", "B": "2"}
		env2 := map[string]string{"B": "3", "C": "4"}
		env3 := map[string]string{"C": "5"}

		result := MergeEnv(env1, env2, env3)
		assert.Equal(t, "1", result["A"])
		assert.Equal(t, "3", result["B"]) // env2 overrides
		assert.Equal(t, "5", result["C"]) // env3 overrides
	})

	t.Run("handles nil maps", func(t *testing.T) {
		env1 := map[string]string{"A": "1"}
		result := MergeEnv(nil, env1, nil)
		assert.Equal(t, "1", result["A"])
	})
}

func TestEnvList(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides map[string]string
		want      []string
	}{
		{
			name: "no overrides",
			base: []string{"A=1", "B=2"},
			want: []string{"A=1", "B=2"},
		},
		{
			name:      "override keeps position",
			base:      []string{"A=1", "B=2", "C=3"},
			overrides: map[string]string{"B": "x"},
			want:      []string{"A=1", "B=x", "C=3"},
		},
		{
			name:      "new keys appended sorted",
			base:      []string{"A=1"},
			overrides: map[string]string{"Z": "z", "M": "m"},
			want:      []string{"A=1", "M=m", "Z=z"},
		},
		{
			name:      "duplicate base keys collapse",
			base:      []string{"A=1", "A=2"},
			overrides: map[string]string{"A": "3"},
			want:      []string{"A=3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnvList(tt.base, tt.overrides))
		})
	}
}

func TestLoadJobEnv(t *testing.T) {
	dir := t.TempDir()

	globalEnv := filepath.Join(dir, ".env")
	err := os.WriteFile(globalEnv, []byte("GLOBAL=1\nSHARED=global"), 0644)
	require.NoError(t, err)

	jobEnv := filepath.Join(dir, ".env.job")
	err = os.WriteFile(jobEnv, []byte("JOB=2\nSHARED=job"), 0644)
	require.NoError(t, err)

	t.Run("merges all sources", func(t *testing.T) {
		env, err := LoadJobEnv(".env", ".env.job", map[string]string{
			"INLINE": "3",
			"SHARED": "inline",
		}, dir)
		require.NoError(t, err)

		assert.Equal(t, "1", env["GLOBAL"])
		assert.Equal(t, "2", env["JOB"])
		assert.Equal(t, "3", env["INLINE"])
		assert.Equal(t, "inline", env["SHARED"]) // inline wins
	})

	t.Run("job file overrides global", func(t *testing.T) {
		env, err := LoadJobEnv(".env", ".env.job", nil, dir)
		require.NoError(t, err)
		assert.Equal(t, "job", env["SHARED"])
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadJobEnv(".env.missing", "", nil, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "global env file")
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Run("finds candidates in order", func(t *testing.T) {
		chdir(t, t.TempDir())

		require.NoError(t, os.WriteFile(".procio.yml", []byte("jobs: {}"), 0644))
		path, err := FindConfigFile()
		require.NoError(t, err)
		assert.Equal(t, ".procio.yml", path)

		require.NoError(t, os.WriteFile("procio.yaml", []byte("jobs: {}"), 0644))
		path, err = FindConfigFile()
		require.NoError(t, err)
		assert.Equal(t, "procio.yaml", path)
	})

	t.Run("nothing found", func(t *testing.T) {
		chdir(t, t.TempDir())

		_, err := FindConfigFile()
		assert.ErrorIs(t, err, domain.ErrConfigNotFound)
	})
}

func TestCheckFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.NoError(t, CheckFilePermissions(path))

	require.NoError(t, os.Chmod(path, 0646))
	err := CheckFilePermissions(path)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Error(t, CheckFilePermissions(filepath.Join(dir, "missing")))
}

// chdir changes the working directory for the rest of the test and restores
// it on cleanup (stand-in for testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

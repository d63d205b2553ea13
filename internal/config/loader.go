package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

// LoadEnvFile reads a .env file and returns the variables as a map
func LoadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("env file not found: %s", path)
	}
	if err := CheckFilePermissions(path); err != nil {
		return nil, err
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return env, nil
}

// ParseEnvPairs parses KEY=VALUE strings, as given on the command line
func ParseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	for _, p := range pairs {
		if !strings.Contains(p, "=") {
			return nil, fmt.Errorf("%w: env: %q is not KEY=VALUE", domain.ErrInvalidConfig, p)
		}
	}
	env, err := godotenv.Unmarshal(strings.Join(pairs, "\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: env: %v", domain.ErrInvalidConfig, err)
	}
	return env, nil
}

// MergeEnv merges multiple environment maps in order, with later maps taking precedence
func MergeEnv(envMaps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, env := range envMaps {
		for k, v := range env {
			result[k] = v
		}
	}
	return result
}

// EnvList overlays overrides on a KEY=VALUE list. Overridden keys keep their
// position; new keys are appended in sorted order.
func EnvList(base []string, overrides map[string]string) []string {
	result := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[k]; ok {
			if !seen[k] {
				result = append(result, k+"="+v)
				seen[k] = true
			}
			continue
		}
		result = append(result, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, k+"="+overrides[k])
	}
	return result
}

// LoadJobEnv loads and merges environment variables for a job
// Priority (lowest to highest):
// 1. Global env_file
// 2. Job env_file
// 3. Job env variables
func LoadJobEnv(globalEnvFile, jobEnvFile string, jobEnv map[string]string, configDir string) (map[string]string, error) {
	var globalEnv, jobFileEnv map[string]string
	var err error

	if globalEnvFile != "" {
		globalEnv, err = LoadEnvFile(resolvePath(globalEnvFile, configDir))
		if err != nil {
			return nil, fmt.Errorf("loading global env file: %w", err)
		}
	}

	if jobEnvFile != "" {
		jobFileEnv, err = LoadEnvFile(resolvePath(jobEnvFile, configDir))
		if err != nil {
			return nil, fmt.Errorf("loading job env file: %w", err)
		}
	}

	return MergeEnv(globalEnv, jobFileEnv, jobEnv), nil
}

// resolvePath resolves a potentially relative path against a base directory
func resolvePath(path, baseDir string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ConfigCandidates are the file names FindConfigFile tries, in order
var ConfigCandidates = []string{
	constants.DefaultConfigFile,
	"procio.yml",
	".procio.yaml",
	".procio.yml",
}

// FindConfigFile searches the current directory for a job file
func FindConfigFile() (string, error) {
	for _, name := range ConfigCandidates {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w (tried: %v)", domain.ErrConfigNotFound, ConfigCandidates)
}

// CheckFilePermissions rejects world-writable files, which any user could
// change to run commands as us.
func CheckFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	if info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("%w: %s is world-writable; run: chmod o-w %s", domain.ErrInvalidConfig, path, path)
	}
	return nil
}

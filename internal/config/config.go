// Package config provides configuration loading and path management.
//
// Configuration is assembled from multiple sources in priority order:
//
//  1. Global config (~/.config/linguabridge/linguabridge.json[c])
//  2. Project config (<dir>/linguabridge.json[c])
//  3. LINGUABRIDGE_CONFIG file
//  4. .env file via godotenv
//  5. Environment variables
//
// Files may be JSONC (comments stripped with tidwall/jsonc) and support
// {env:VAR} and {file:path} interpolation.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/linguabridge/linguabridge/pkg/types"
)

// Load assembles the configuration, treating directory as the project root
// for project-level config files.
func Load(directory string) (*types.Config, error) {
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load(filepath.Join(directory, ".env"))

	paths := GetPaths()
	config := &types.Config{
		DataDir:     paths.Data,
		ContentRoot: filepath.Join(paths.Data, "content"),
		LogLevel:    "INFO",
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	loadOnce(filepath.Join(paths.Config, "linguabridge.json"))
	loadOnce(filepath.Join(paths.Config, "linguabridge.jsonc"))

	if directory != "" {
		loadOnce(filepath.Join(directory, "linguabridge.json"))
		loadOnce(filepath.Join(directory, "linguabridge.jsonc"))
	}

	if configPath := os.Getenv("LINGUABRIDGE_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, filepath.Dir(path))

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		// Escape for embedding inside a JSON string.
		escaped, _ := json.Marshal(strings.TrimSpace(string(content)))
		return strings.Trim(string(escaped), `"`)
	})

	return []byte(str)
}

// mergeConfig overlays src onto dst; set fields win.
func mergeConfig(dst, src *types.Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.ContentRoot != "" {
		dst.ContentRoot = src.ContentRoot
	}
	if len(src.Agent) > 0 {
		dst.Agent = src.Agent
	}
	if src.Instructions != "" {
		dst.Instructions = src.Instructions
	}
	if src.GitRemote != "" {
		dst.GitRemote = src.GitRemote
	}
	if src.TargetLanguage {
		dst.TargetLanguage = true
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// applyEnvOverrides applies LINGUABRIDGE_* environment variables, the
// highest-priority source.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("LINGUABRIDGE_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("LINGUABRIDGE_CONTENT_ROOT"); v != "" {
		config.ContentRoot = v
	}
	if v := os.Getenv("LINGUABRIDGE_AGENT"); v != "" {
		config.Agent = strings.Fields(v)
	}
	if v := os.Getenv("LINGUABRIDGE_INSTRUCTIONS"); v != "" {
		config.Instructions = v
	}
	if v := os.Getenv("LINGUABRIDGE_GIT_REMOTE"); v != "" {
		config.GitRemote = v
	}
	if v := os.Getenv("LINGUABRIDGE_TARGET_LANGUAGE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TargetLanguage = b
		}
	}
	if v := os.Getenv("LINGUABRIDGE_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
}

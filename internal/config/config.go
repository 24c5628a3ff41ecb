package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/kodaed/lop/internal/logger"
)

// Config holds the fuzzer's full runtime configuration, loaded from a
// single YAML file named on the command line.
type Config struct {
	Target        string   `mapstructure:"target"`
	TargetArgs    []string `mapstructure:"target_args"`
	SeedsFolder   string   `mapstructure:"seeds_folder"`
	QueueFolder   string   `mapstructure:"queue_folder"`
	CrashesFolder string   `mapstructure:"crashes_folder"`
	CurrentInput  string   `mapstructure:"current_input"`
	LogLevel      string   `mapstructure:"log_level"`
	LogDir        string   `mapstructure:"log_dir"`
	TimeoutMs     int      `mapstructure:"timeout_ms"`
}

// envVarPattern matches environment variable placeholders: ${VAR_NAME} or $VAR_NAME
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// resolveEnvVars replaces environment variable placeholders in a string
// with their values. Unset variables are left as-is in the string.
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// LoadEnvFromDotEnv loads KEY=value pairs from a .env file in dir, if
// one exists. Variables already set in the environment are left alone.
func LoadEnvFromDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read .env file: %w", err)
	}

	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return fmt.Errorf("invalid line in .env file at line %d: missing '='", lineNum+1)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 && (value[0] == '"' && value[len(value)-1] == '"' || value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}

// resolveInMap recursively resolves environment variables in map values
// produced by viper's AllSettings.
func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if resolved := resolveEnvVars(val); resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			for i, item := range val {
				if s, ok := item.(string); ok {
					val[i] = resolveEnvVars(s)
				}
			}
		}
	}
}

// Load reads the fuzzer configuration file at path and validates it.
// It returns valid=false (with a nil Config) on any read, parse, or
// required-field error rather than returning an error value directly,
// matching the external contract the fuzzing loop expects: it only
// ever proceeds on valid == true.
func Load(path string) (valid bool, cfg *Config) {
	if err := LoadEnvFromDotEnv(filepath.Dir(path)); err != nil {
		logger.Warn("failed to load .env: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Error("failed to read config %s: %v", path, err)
		return false, nil
	}

	settings := v.AllSettings()
	resolveInMap(settings)
	resolved := viper.New()
	for k, val := range settings {
		resolved.Set(k, val)
	}

	var c Config
	if err := resolved.Unmarshal(&c); err != nil {
		logger.Error("failed to unmarshal config %s: %v", path, err)
		return false, nil
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 1000
	}

	if !validate(&c) {
		return false, nil
	}
	return true, &c
}

func validate(c *Config) bool {
	required := map[string]string{
		"target":         c.Target,
		"seeds_folder":   c.SeedsFolder,
		"queue_folder":   c.QueueFolder,
		"crashes_folder": c.CrashesFolder,
		"current_input":  c.CurrentInput,
	}
	ok := true
	for key, val := range required {
		if val == "" {
			logger.Error("config missing required field %q", key)
			ok = false
		}
	}
	return ok
}

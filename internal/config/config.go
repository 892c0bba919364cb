package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// SavepointRate is the number of revisions between in-memory savepoints
	// of each document history.
	SavepointRate int `json:"savepoint_rate"`

	// CheckSavepoints replays every document log against its savepoints
	// whenever a savepoint is added. Slow; meant for debugging the engine.
	CheckSavepoints bool `json:"check_savepoints,omitempty"`

	// ServerBranch is the branch name every document history uses for its
	// own changes. Clients must sync under a different name.
	ServerBranch string `json:"server_branch"`

	// MaxChangesPerRequest limits how many changes one append, merge or
	// rebase may carry.
	MaxChangesPerRequest int `json:"max_changes_per_request"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// AllowedPaths lists extra directories export and import files may live
	// in directly, besides ~/.tandem/exports. Only absolute paths are used.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on export and import
	// paths. Symlinked files are still rejected.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "doc". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SavepointRate:        20,
		ServerBranch:         "server",
		MaxChangesPerRequest: 1000,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both the global (~/.tandem) and repo
// (.tandem) directories. The repo config is the nearest .tandem/config.json
// found walking upward from startDir. Repo values win for scalars; arrays are
// merged. Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tandem/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tandem", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) if the file
// doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ServerBranch = strings.TrimSpace(cfg.ServerBranch)
	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		SavepointRate:        firstNonZero(overlay.SavepointRate, base.SavepointRate),
		ServerBranch:         overlay.ServerBranch,
		MaxChangesPerRequest: firstNonZero(overlay.MaxChangesPerRequest, base.MaxChangesPerRequest),
		DBMaxOpenConns:       firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:       firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}
	if result.ServerBranch == "" {
		result.ServerBranch = base.ServerBranch
	}

	// Booleans: overlay wins if true, else base
	result.CheckSavepoints = base.CheckSavepoints || overlay.CheckSavepoints
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the agent reads.
const EnvPrefix = "HINDSIGHT_"

// Enforced interval minimums. Under-polling strains the host.
const (
	MinProcessPollSeconds = 5
	MinShellPollSeconds   = 10
	MinBrowserPollSeconds = 60
)

// Config is the explicit configuration value constructed at startup and
// passed down. There is no ambient global configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	// Collection intervals in seconds.
	ProcessPollInterval      int `yaml:"process_poll_interval"`
	ShellHistoryPollInterval int `yaml:"shell_history_poll_interval"`
	BrowserPollInterval      int `yaml:"browser_poll_interval"`
	GitPollInterval          int `yaml:"git_poll_interval"`

	// Activity analysis.
	ActivityWindowMinutes int `yaml:"activity_window_minutes"`

	// Supervisor periodic tasks, in seconds.
	GraphSaveInterval int `yaml:"graph_save_interval"`
	StatusInterval    int `yaml:"status_interval"`

	// Paths to watch for filesystem and git activity.
	WatchPaths []string `yaml:"watch_paths"`

	// Browser history databases. Empty disables the browser.
	ChromeHistoryPath  string `yaml:"chrome_history_path"`
	FirefoxHistoryPath string `yaml:"firefox_history_path"`

	// Shell history files keyed by shell name ("bash", "zsh").
	ShellHistoryPaths map[string]string `yaml:"shell_history_paths"`
}

// Default returns the platform-discovered default configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:                  defaultDataDir(),
		LogLevel:                 "info",
		ProcessPollInterval:      30,
		ShellHistoryPollInterval: 60,
		BrowserPollInterval:      300,
		GitPollInterval:          60,
		ActivityWindowMinutes:    15,
		GraphSaveInterval:        300,
		StatusInterval:           60,
		WatchPaths:               defaultWatchPaths(),
		ChromeHistoryPath:        chromeHistoryPath(),
		FirefoxHistoryPath:       firefoxHistoryPath(),
		ShellHistoryPaths:        shellHistoryPaths(),
	}
	return cfg
}

// Load builds the effective configuration: defaults, then the optional
// config.yaml in the data directory, then environment overrides, then
// interval clamping.
func Load() (*Config, error) {
	cfg := Default()

	// DATA_DIR has to be resolved before the config file can be found.
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		cfg.DataDir = expandHome(dir)
	}

	if err := cfg.loadFile(filepath.Join(cfg.DataDir, "config.yaml")); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.clamp()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.DataDir = expandHome(v)
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	envInt(EnvPrefix+"PROCESS_POLL_INTERVAL", &c.ProcessPollInterval)
	envInt(EnvPrefix+"SHELL_HISTORY_POLL_INTERVAL", &c.ShellHistoryPollInterval)
	envInt(EnvPrefix+"BROWSER_POLL_INTERVAL", &c.BrowserPollInterval)
	envInt(EnvPrefix+"GIT_POLL_INTERVAL", &c.GitPollInterval)
	envInt(EnvPrefix+"ACTIVITY_WINDOW_MINUTES", &c.ActivityWindowMinutes)
	if v := os.Getenv(EnvPrefix + "WATCH_PATHS"); v != "" {
		var paths []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, expandHome(p))
			}
		}
		c.WatchPaths = paths
	}
	if v := os.Getenv(EnvPrefix + "CHROME_HISTORY_PATH"); v != "" {
		c.ChromeHistoryPath = expandHome(v)
	}
	if v := os.Getenv(EnvPrefix + "FIREFOX_HISTORY_PATH"); v != "" {
		c.FirefoxHistoryPath = expandHome(v)
	}
}

func (c *Config) clamp() {
	if c.ProcessPollInterval < MinProcessPollSeconds {
		c.ProcessPollInterval = MinProcessPollSeconds
	}
	if c.ShellHistoryPollInterval < MinShellPollSeconds {
		c.ShellHistoryPollInterval = MinShellPollSeconds
	}
	if c.BrowserPollInterval < MinBrowserPollSeconds {
		c.BrowserPollInterval = MinBrowserPollSeconds
	}
	if c.GitPollInterval < 1 {
		c.GitPollInterval = 1
	}
	if c.ActivityWindowMinutes < 1 {
		c.ActivityWindowMinutes = 1
	}
	if c.GraphSaveInterval < 1 {
		c.GraphSaveInterval = 300
	}
	if c.StatusInterval < 1 {
		c.StatusInterval = 60
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", c.DataDir, err)
	}
	return nil
}

// DatabasePath is the SQLite event store file.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "events.db") }

// GraphPath is the activity graph snapshot file.
func (c *Config) GraphPath() string { return filepath.Join(c.DataDir, "graph.db") }

// LogPath is the append-only log file.
func (c *Config) LogPath() string { return filepath.Join(c.DataDir, "hindsight.log") }

// PIDPath is the daemon PID file.
func (c *Config) PIDPath() string { return filepath.Join(c.DataDir, "hindsight.pid") }

// ProcessPoll returns the process sampling interval as a duration.
func (c *Config) ProcessPoll() time.Duration {
	return time.Duration(c.ProcessPollInterval) * time.Second
}

// ShellPoll returns the shell history polling interval as a duration.
func (c *Config) ShellPoll() time.Duration {
	return time.Duration(c.ShellHistoryPollInterval) * time.Second
}

// BrowserPoll returns the browser history polling interval as a duration.
func (c *Config) BrowserPoll() time.Duration {
	return time.Duration(c.BrowserPollInterval) * time.Second
}

// GitPoll returns the repository scan interval as a duration.
func (c *Config) GitPoll() time.Duration {
	return time.Duration(c.GitPollInterval) * time.Second
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "hindsight")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "hindsight")
		}
		return filepath.Join(home, "hindsight")
	default:
		return filepath.Join(home, ".hindsight")
	}
}

func defaultWatchPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	paths := []string{home}
	for _, subdir := range []string{"Documents", "Projects", "Code", "Development", "src"} {
		p := filepath.Join(home, subdir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}
	return paths
}

func chromeHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	var path string
	switch runtime.GOOS {
	case "darwin":
		path = filepath.Join(home, "Library", "Application Support", "Google", "Chrome", "Default", "History")
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		if local == "" {
			local = filepath.Join(home, "AppData", "Local")
		}
		path = filepath.Join(local, "Google", "Chrome", "User Data", "Default", "History")
	default:
		path = filepath.Join(home, ".config", "google-chrome", "Default", "History")
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func firefoxHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	var profiles string
	switch runtime.GOOS {
	case "darwin":
		profiles = filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		profiles = filepath.Join(appData, "Mozilla", "Firefox", "Profiles")
	default:
		profiles = filepath.Join(home, ".mozilla", "firefox")
	}

	entries, err := os.ReadDir(profiles)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		places := filepath.Join(profiles, entry.Name(), "places.sqlite")
		if _, err := os.Stat(places); err == nil {
			return places
		}
	}
	return ""
}

func shellHistoryPaths() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	paths := make(map[string]string)
	if p := filepath.Join(home, ".bash_history"); fileExists(p) {
		paths["bash"] = p
	}
	if p := filepath.Join(home, ".zsh_history"); fileExists(p) {
		paths["zsh"] = p
	}
	return paths
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

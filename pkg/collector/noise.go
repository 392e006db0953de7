package collector

import "strings"

// ignorePathPatterns filters filesystem noise. A path containing any of these
// substrings is never turned into an event.
var ignorePathPatterns = []string{
	".git/objects",
	".git/refs",
	".git/logs",
	".git/index",
	"node_modules/",
	"__pycache__",
	".pyc",
	".DS_Store",
	".cache/",
	".tmp",
	".swp",
	".swo",
	".swx",
	".idea/",
	".vscode/",
	"venv/",
	".venv/",
	"dist/",
	"build/",
	"target/",
	".pytest_cache",
	".mypy_cache",
	".Trash",
}

func ignoredPath(path string) bool {
	for _, pattern := range ignorePathPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	// Editor backup files.
	return strings.HasSuffix(path, "~")
}

// ignoreProcesses lists system and kernel processes that say nothing about
// what the user is doing.
var ignoreProcesses = map[string]struct{}{
	"kernel_task":      {},
	"launchd":          {},
	"systemd":          {},
	"kthreadd":         {},
	"init":             {},
	"WindowServer":     {},
	"loginwindow":      {},
	"cfprefsd":         {},
	"distnoted":        {},
	"mds":              {},
	"mds_stores":       {},
	"mdworker":         {},
	"mdworker_shared":  {},
	"coreaudiod":       {},
	"hidd":             {},
	"notifyd":          {},
	"syslogd":          {},
	"dbus-daemon":      {},
	"NetworkManager":   {},
	"wpa_supplicant":   {},
	"systemd-journald": {},
	"systemd-logind":   {},
	"systemd-udevd":    {},
	"gnome-shell":      {},
	"Xorg":             {},
	"pipewire":         {},
	"pulseaudio":       {},
}

// processCategories maps interesting process names to an activity category.
// Categorized processes are always tracked regardless of resource usage.
var processCategories = map[string]string{
	// Editors and IDEs
	"code":          "editor",
	"code-insiders": "editor",
	"vim":           "editor",
	"nvim":          "editor",
	"emacs":         "editor",
	"subl":          "editor",
	"sublime_text":  "editor",
	"pycharm":       "editor",
	"idea":          "editor",
	"goland":        "editor",
	"webstorm":      "editor",
	"zed":           "editor",

	// Browsers
	"chrome":        "browser",
	"Google Chrome": "browser",
	"firefox":       "browser",
	"Safari":        "browser",
	"msedge":        "browser",
	"brave":         "browser",
	"chromium":      "browser",

	// Terminals
	"Terminal":  "terminal",
	"iTerm2":    "terminal",
	"alacritty": "terminal",
	"kitty":     "terminal",
	"wezterm":   "terminal",
	"tmux":      "terminal",

	// Dev tools
	"git":            "dev_tool",
	"docker":         "dev_tool",
	"docker-compose": "dev_tool",
	"node":           "dev_tool",
	"python":         "dev_tool",
	"python3":        "dev_tool",
	"go":             "dev_tool",
	"cargo":          "dev_tool",
	"make":           "dev_tool",
	"java":           "dev_tool",
	"kubectl":        "dev_tool",

	// Communication
	"Slack":   "communication",
	"slack":   "communication",
	"Discord": "communication",
	"zoom":    "communication",
	"Teams":   "communication",

	// Design
	"Figma":     "design",
	"Photoshop": "design",
	"Sketch":    "design",
}

// ignoreCommands lists shell commands too trivial to record. Matching is on
// the basename of the command's first token.
var ignoreCommands = map[string]struct{}{
	"ls":      {},
	"cd":      {},
	"pwd":     {},
	"clear":   {},
	"exit":    {},
	"history": {},
	"ll":      {},
	"la":      {},
	"l":       {},
	".":       {},
	"..":      {},
}

// ignoreURLPrefixes filters internal browser pages and local files out of
// browsing history.
var ignoreURLPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"about:",
	"moz-extension://",
	"edge://",
	"brave://",
	"file://",
	"data:",
}

func ignoredURL(url string) bool {
	for _, prefix := range ignoreURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level autobranch config.
	WorkspaceDirName = ".autobranch"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the autobranch watcher.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Dialog  DialogConfig  `yaml:"dialog"`
	Branch  BranchConfig  `yaml:"branch"`
	Trace   TraceConfig   `yaml:"trace"`
	MCP     MCPConfig     `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the watcher launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Only pages whose URL contains this substring are watched ("" = all pages).
	PageURLSubstring string `yaml:"page_url_substring"`
	// How often the in-page mutation buffers are drained (e.g., "150ms").
	PollInterval string `yaml:"poll_interval"`
	// How often the browser is rescanned for new matching pages (e.g., "2s").
	DiscoverInterval string `yaml:"discover_interval"`
}

// DialogConfig identifies the host dialog and its asynchronously-loading parts.
// These selectors mirror undocumented host markup and may drift without
// notice; drift is diagnosed via the trace log, not auto-recovered.
type DialogConfig struct {
	// Element id that marks the dialog of interest.
	MarkerID string `yaml:"marker_id"`
	// Expected label text on the marker element ("" disables the text check).
	MarkerText string `yaml:"marker_text"`
	// Selector for the sub-region that loads after the dialog shell.
	RegionSelector string `yaml:"region_selector"`
	// Substring of the work-item link's href inside the region.
	LinkHrefSubstring string `yaml:"link_href_substring"`
	// Selector for the branch-name input inside the dialog.
	InputSelector string `yaml:"input_selector"`
	// Delay between detecting the dialog and first querying it, so the shell can paint (e.g., "250ms").
	SettleDelay string `yaml:"settle_delay"`
	// Bound on waiting for the region to produce a matching link (e.g., "10s").
	RegionTimeout string `yaml:"region_timeout"`
}

// BranchConfig controls how the branch name is derived from the work item.
type BranchConfig struct {
	// Prefix prepended to the derived name (e.g., "feature/").
	Prefix string `yaml:"prefix"`
	// Punctuation characters rewritten to spaces before tokenizing the title.
	Punctuation string `yaml:"punctuation"`
	// CopyControl appends a copy-to-clipboard button next to the filled field (default: true).
	CopyControl *bool `yaml:"copy_control"`
}

// TraceConfig controls the structured decision-point trace.
type TraceConfig struct {
	Debug bool   `yaml:"debug"`
	Dir   string `yaml:"dir"`
}

type MCPConfig struct {
	// Enable exposes the MCP control surface (stdio by default).
	Enable bool `yaml:"enable"`
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultPunctuation is the canonical word-separator set for title formatting.
// Hyphen is deliberately absent: it survives stripping and acts as a token split.
const DefaultPunctuation = ".,:;!?/\\()[]{}'\"`|<>@#$%^&*+=~"

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "autobranch",
			Version: "0.2.0",
			LogFile: "autobranch.log",
		},
		Browser: BrowserConfig{
			AutoStart:        true,
			PageURLSubstring: "",
			PollInterval:     "150ms",
			DiscoverInterval: "2s",
		},
		Dialog: DialogConfig{
			MarkerID:          "create-branch-dialog",
			MarkerText:        "Create a branch",
			RegionSelector:    ".linked-work-items",
			LinkHrefSubstring: "_workitems/edit",
			InputSelector:     "input.branch-name-input",
			SettleDelay:       "250ms",
			RegionTimeout:     "10s",
		},
		Branch: BranchConfig{
			Prefix:      "feature/",
			Punctuation: DefaultPunctuation,
		},
		Trace: TraceConfig{
			Debug: false,
			Dir:   "data/traces",
		},
		MCP: MCPConfig{
			Enable:  false,
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .autobranch/config.yaml file.
// Returns the workspace root directory (parent of .autobranch/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .autobranch/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .autobranch/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write template config
	templateConfig := `# autobranch project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   debugger_url: "ws://localhost:9222"
#   page_url_substring: "dev.example.com"

# dialog:
#   marker_id: create-branch-dialog
#   region_selector: .linked-work-items
#   input_selector: input.branch-name-input

# branch:
#   prefix: "feature/"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Trace.Dir = resolve(cfg.Trace.Dir)
	return cfg
}

// Validate ensures required fields exist so the watcher can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Dialog.MarkerID == "" {
		return errors.New("dialog.marker_id is required")
	}
	if c.Dialog.RegionSelector == "" {
		return errors.New("dialog.region_selector is required")
	}
	if c.Dialog.InputSelector == "" {
		return errors.New("dialog.input_selector is required")
	}
	return nil
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true // default to headless
	}
	return *b.Headless
}

// GetPollInterval returns the parsed event drain interval with a sane default.
func (b BrowserConfig) GetPollInterval() time.Duration {
	return parseDurationOr(b.PollInterval, 150*time.Millisecond)
}

// GetDiscoverInterval returns the parsed page rescan interval with a sane default.
func (b BrowserConfig) GetDiscoverInterval() time.Duration {
	return parseDurationOr(b.DiscoverInterval, 2*time.Second)
}

// GetSettleDelay returns the parsed dialog-shell settle delay with a sane default.
func (d DialogConfig) GetSettleDelay() time.Duration {
	return parseDurationOr(d.SettleDelay, 250*time.Millisecond)
}

// GetRegionTimeout returns the parsed region wait bound with a sane default.
func (d DialogConfig) GetRegionTimeout() time.Duration {
	return parseDurationOr(d.RegionTimeout, 10*time.Second)
}

// GetPunctuation returns the configured separator set or the canonical default.
func (b BranchConfig) GetPunctuation() string {
	if b.Punctuation == "" {
		return DefaultPunctuation
	}
	return b.Punctuation
}

// HasCopyControl returns whether the copy button is attached (default: true).
func (b BranchConfig) HasCopyControl() bool {
	if b.CopyControl == nil {
		return true
	}
	return *b.CopyControl
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

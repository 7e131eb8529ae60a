package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Sync   SyncConfig        `yaml:"sync"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown note vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the reading-history database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig holds the page-state synchronization settings.
//
// NoteTemplate locates the note associated with a document. It may use the
// placeholders {{pdf_filename}}, {{pdf_basename}}, {{pdf_folder_path}} and
// {{pdf_parent_folder_name}}, and must resolve to a .md path inside the vault.
//
// SettingsPath, when non-empty, names a YAML file holding runtime-modified
// settings. It is read on startup (overriding this section) and rewritten
// whenever settings change through the API.
type SyncConfig struct {
	NoteTemplate        string `yaml:"note_template"`
	FrontmatterKey      string `yaml:"frontmatter_key"`
	EnableSaving        bool   `yaml:"enable_saving"`
	EnableLoading       bool   `yaml:"enable_loading"`
	CreateNoteIfMissing bool   `yaml:"create_note_if_missing"`
	SaveIntervalSeconds int    `yaml:"save_interval_seconds"`
	ThrottleSeconds     int    `yaml:"throttle_seconds"`
	LoadTimeoutSeconds  int    `yaml:"load_timeout_seconds"`
	ReadyRetries        int    `yaml:"ready_retries"`
	ReadyBackoffMillis  int    `yaml:"ready_backoff_ms"`
	SettingsPath        string `yaml:"settings_path"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.NoteTemplate, validation.Required),
		validation.Field(&c.FrontmatterKey, validation.Required),
		validation.Field(&c.SaveIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.ThrottleSeconds, validation.Min(0)),
		validation.Field(&c.LoadTimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.ReadyRetries, validation.Min(0)),
		validation.Field(&c.ReadyBackoffMillis, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8090,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./pagemark.db",
		},
		Sync: SyncConfig{
			NoteTemplate:        "{{pdf_folder_path}}/{{pdf_basename}}.md",
			FrontmatterKey:      "pdf-view-state",
			EnableSaving:        true,
			EnableLoading:       true,
			CreateNoteIfMissing: false,
			SaveIntervalSeconds: 15,
			ThrottleSeconds:     30,
			LoadTimeoutSeconds:  10,
			ReadyRetries:        5,
			ReadyBackoffMillis:  500,
			SettingsPath:        "./pagemark.settings.yaml",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

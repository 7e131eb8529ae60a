package track

import (
	"errors"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgconfig "github.com/starford/pagemark/pkg/config"
)

// Settings is the runtime-mutable synchronization policy. It is loaded at
// startup and persisted whenever it changes through the API.
type Settings struct {
	NoteTemplate        string `yaml:"note_template" json:"note_template"`
	FrontmatterKey      string `yaml:"frontmatter_key" json:"frontmatter_key"`
	EnableSaving        bool   `yaml:"enable_saving" json:"enable_saving"`
	EnableLoading       bool   `yaml:"enable_loading" json:"enable_loading"`
	CreateNoteIfMissing bool   `yaml:"create_note_if_missing" json:"create_note_if_missing"`
}

// Validate validates the settings.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.NoteTemplate, validation.Required),
		validation.Field(&s.FrontmatterKey, validation.Required),
	)
}

// Timing groups the fixed scheduling knobs of the controller. Unlike
// Settings these are not mutable at runtime.
type Timing struct {
	SaveInterval time.Duration
	Throttle     time.Duration
	LoadTimeout  time.Duration
	ReadyRetries int
	ReadyBackoff time.Duration
}

// LoadSettings returns defaults overlaid with the overrides file at path,
// when one exists. An empty path disables overrides.
func LoadSettings(path string, defaults Settings) (Settings, error) {
	s := defaults
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err := pkgconfig.Load(path, &s); err != nil {
		return defaults, err
	}
	return s, nil
}

// SaveSettings persists the settings to path. An empty path is a no-op.
func SaveSettings(path string, s Settings) error {
	if path == "" {
		return nil
	}
	return pkgconfig.Save(path, &s)
}

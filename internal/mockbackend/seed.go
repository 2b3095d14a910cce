package mockbackend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/snipline/schema"
)

// Seed is the shortcut catalogue served by the mock backend.
type Seed struct {
	Categories []schema.Category `yaml:"categories"`
	Shortcuts  []schema.Shortcut `yaml:"shortcuts"`
}

// DefaultSeed returns the catalogue written by `snipline init`.
func DefaultSeed() Seed {
	general := schema.CategoryID("general")
	support := schema.CategoryID("support")
	return Seed{
		Categories: []schema.Category{
			{ID: general, Name: "General", Color: "#4f7cac"},
			{ID: support, Name: "Support", Color: "#c06b4a"},
		},
		Shortcuts: []schema.Shortcut{
			{
				ID:            "sig",
				Trigger:       "//sig",
				Title:         "Signature",
				Content:       "Best regards,\n{{user}}",
				ExpansionType: schema.ExpansionDynamic,
				CategoryID:    &general,
				IsActive:      true,
			},
			{
				ID:            "today",
				Trigger:       "//today",
				Title:         "Today's date",
				Content:       "{{date}}",
				ExpansionType: schema.ExpansionDynamic,
				CategoryID:    &general,
				IsActive:      true,
			},
			{
				ID:            "greet",
				Trigger:       "//greet",
				Title:         "Customer greeting",
				Content:       "Hi {{name}}, thanks for reaching out about {{topic}}.",
				ExpansionType: schema.ExpansionDynamic,
				Variables: []schema.Variable{
					{Name: "name", Default: "there"},
					{Name: "topic", Default: "your request"},
				},
				CategoryID: &support,
				IsActive:   true,
			},
			{
				ID:            "addr",
				Trigger:       "//addr",
				Title:         "Office address",
				Content:       "1 Example Street\nSpringfield",
				ExpansionType: schema.ExpansionStatic,
				CategoryID:    &general,
				IsActive:      true,
			},
			{
				ID:            "followup",
				Trigger:       "//followup",
				Title:         "Follow-up reply",
				Content:       "Following up on {{topic}}. Let me know if anything is unclear.",
				ExpansionType: schema.ExpansionAIEnhanced,
				Variables:     []schema.Variable{{Name: "topic", Default: "our last conversation"}},
				CategoryID:    &support,
				IsActive:      true,
			},
		},
	}
}

// LoadSeed reads a yaml seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed, nil
}

// WriteSeed stores seed as yaml at path, refusing to replace an existing
// file unless overwrite is set.
func WriteSeed(path string, seed Seed, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("seed already exists at %s", path)
		}
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ids and triggers are present and unique.
func (s Seed) Validate() error {
	ids := make(map[schema.ShortcutID]struct{}, len(s.Shortcuts))
	triggers := make(map[string]struct{}, len(s.Shortcuts))
	for _, sc := range s.Shortcuts {
		if strings.TrimSpace(string(sc.ID)) == "" {
			return errors.New("shortcut id is required")
		}
		if err := schema.ValidateTrigger(sc.Trigger, ""); err != nil {
			return fmt.Errorf("shortcut %s: invalid trigger %q", sc.ID, sc.Trigger)
		}
		if _, ok := ids[sc.ID]; ok {
			return fmt.Errorf("duplicate shortcut id %s", sc.ID)
		}
		if _, ok := triggers[sc.Trigger]; ok {
			return fmt.Errorf("duplicate trigger %s", sc.Trigger)
		}
		ids[sc.ID] = struct{}{}
		triggers[sc.Trigger] = struct{}{}
	}
	return nil
}

package branchscript

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional `story.meta.yaml` project sidecar: a thin
// layer of project metadata paired with a compiled binary, rather than
// anything the VM itself needs to run.
type Manifest struct {
	OutputPath string            `yaml:"output_path"`
	Characters map[string]string `yaml:"characters"`
	Locales    []string          `yaml:"locales"`
}

// LoadManifest reads and parses a story.meta.yaml file. A missing file
// returns the os.ReadFile error; since the manifest is optional, callers
// check os.IsNotExist on the returned error themselves if they need to
// distinguish "absent" from "malformed".
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("branchscript: parsing %s: %w", path, err)
	}
	return &m, nil
}

// ApplyCharacters merges the manifest's character table into story,
// overwriting any character the compiled source already declared with
// the same id (the manifest is meant for last-mile project overrides,
// e.g. a localized display name without touching the .script source).
func (m *Manifest) ApplyCharacters(story *Story) {
	if m == nil {
		return
	}
	for id, displayName := range m.Characters {
		found := false
		for i, c := range story.Characters {
			if c.ID == id {
				if c.Properties == nil {
					story.Characters[i].Properties = make(map[string]string)
				}
				story.Characters[i].Properties["display_name"] = displayName
				found = true
				break
			}
		}
		if !found {
			story.Characters = append(story.Characters, Character{
				ID:         id,
				Properties: map[string]string{"display_name": displayName},
			})
		}
	}
}

// ValidateLocales checks that every CSV path the manifest names exists
// and is readable, without loading it: the manifest's job is project
// bookkeeping, not taking over the VM's own locale-loading responsibility,
// which stays a runtime operation via LoadLocale.
func (m *Manifest) ValidateLocales() []error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, path := range m.Locales {
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("locale %q: %w", path, err))
		}
	}
	return errs
}

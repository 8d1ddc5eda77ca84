package branchscript

import (
	"encoding/csv"
	"io"
)

// LoadLocale reads a translation CSV (header
// line_id,type,node,character,text; the fifth column is the translated
// text) and installs it as the active overlay. Rows whose line_id has
// no match in the story's pool are silently ignored, matching the same
// forgiving posture LoadState uses for stale references.
func (vm *VM) LoadLocale(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return err
	}
	overlay := make(map[string]string)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) < 5 {
			continue
		}
		overlay[row[0]] = row[4]
	}
	vm.localeOverlay = overlay
	return nil
}

// ClearLocale removes any active translation overlay, restoring the
// story pool's own text.
func (vm *VM) ClearLocale() { vm.localeOverlay = nil }

// GetLocale returns the active translation overlay, or nil if none is
// loaded.
func (vm *VM) GetLocale() map[string]string { return vm.localeOverlay }

// ABOUTME: Loads the agent instruction template and substitutes the current date
// ABOUTME: Falls back to the embedded instructions.md when no template path is configured

package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"
)

// DatePlaceholder is replaced with the startup date in YYYY-MM-DD form.
const DatePlaceholder = "{current_date}"

//go:embed instructions.md
var defaultInstructions string

// LoadInstructions reads the instruction template at path, or the embedded
// default when path is empty, and fills in the date placeholder.
func LoadInstructions(path string, now time.Time) (string, error) {
	template := defaultInstructions
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading instructions: %w", err)
		}
		template = string(data)
	}
	return RenderInstructions(template, now), nil
}

// RenderInstructions replaces every date placeholder in template.
func RenderInstructions(template string, now time.Time) string {
	return strings.ReplaceAll(template, DatePlaceholder, now.Format("2006-01-02"))
}

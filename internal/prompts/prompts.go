// Package prompts provides the built-in description prompt styles.
//
// Prompt templates are stored as text files under styles/ and embedded at
// compile time, so the binary is self-contained and styles cannot drift
// from the code that references them.
package prompts

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed styles/*.txt
var styleFS embed.FS

// SystemPrompt is the instruction sent alongside the per-style user prompt.
// Backends without a system channel ignore it.
const SystemPrompt = "You are a visual analysis assistant specialized in " +
	"accurate, grounded image descriptions. Describe only what is visible. " +
	"Do not speculate about anything outside the frame."

// styles maps style name to the embedded prompt text, populated at init.
var styles = map[string]string{}

func init() {
	entries, err := styleFS.ReadDir("styles")
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded styles missing: %v", err))
	}
	for _, e := range entries {
		data, err := styleFS.ReadFile("styles/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("prompts: failed to read embedded style %s: %v", e.Name(), err))
		}
		name := strings.TrimSuffix(e.Name(), ".txt")
		styles[name] = strings.TrimSpace(string(data))
	}
}

// Styles returns the available style names, sorted.
func Styles() []string {
	names := make([]string, 0, len(styles))
	for name := range styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the prompt text for a style, or the custom prompt verbatim
// when custom is non-empty. An unknown style is an error so that a typo
// fails before any provider call.
func Resolve(style, custom string) (string, error) {
	if custom != "" {
		return custom, nil
	}
	text, ok := styles[style]
	if !ok {
		return "", fmt.Errorf("unknown prompt style %q (available: %s)", style, strings.Join(Styles(), ", "))
	}
	return text, nil
}

// IsKnown reports whether a style name exists.
func IsKnown(style string) bool {
	_, ok := styles[style]
	return ok
}

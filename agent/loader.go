package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// Loader loads agent definitions from files or raw bytes.
type Loader interface {
	// LoadDir reads every *.yaml/*.yml file in dir, sorted by name.
	LoadDir(dir string) ([]*Definition, error)
	// LoadFile reads one file and parses it into a Definition.
	LoadFile(path string) (*Definition, error)
	// LoadBytes parses raw YAML bytes into a Definition.
	LoadBytes(data []byte) (*Definition, error)
}

// YAMLLoader implements Loader for YAML agent definitions.
type YAMLLoader struct{}

// NewYAMLLoader creates a new YAMLLoader.
func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

// LoadDir reads all YAML definitions in dir.
func (l *YAMLLoader) LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.Errorf(types.ErrConfig, "read agents dir %s", dir).WithCause(err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		def, err := l.LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile reads one agent definition file.
func (l *YAMLLoader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Errorf(types.ErrConfig, "read agent definition %s", path).WithCause(err)
	}
	def, err := l.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadBytes parses raw YAML bytes.
func (l *YAMLLoader) LoadBytes(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrConfig, "parse agent definition").WithCause(err)
	}
	if def.Name == "" {
		return nil, types.NewError(types.ErrConfig, "agent definition missing name")
	}
	if def.SystemPrompt == "" {
		return nil, types.Errorf(types.ErrConfig, "agent %q missing system_prompt", def.Name)
	}
	return &def, nil
}

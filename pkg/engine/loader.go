package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates YAML operation definitions. Validation
// failures are permanent errors surfaced before any mutation.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a definition loader.
func NewLoader() *Loader {
	return &Loader{
		validate: validator.New(),
	}
}

// LoadBytes parses a single operation definition from YAML.
func (l *Loader) LoadBytes(data []byte) (*OperationDefinition, error) {
	var def OperationDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, NewPermanentError("failed to parse operation definition", err).
			WithCode(ErrCodeValidation)
	}

	if err := l.validate.Struct(&def); err != nil {
		return nil, NewPermanentError("invalid operation definition", err).
			WithCode(ErrCodeValidation)
	}

	if err := checkDefinition(&def); err != nil {
		return nil, err
	}

	return &def, nil
}

// Load reads and parses one definition file.
func (l *Loader) Load(path string) (*OperationDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("failed to read %s", path), err).
			WithCode(ErrCodeValidation)
	}
	return l.LoadBytes(data)
}

// LoadDir loads every .yaml/.yml definition under dir, sorted by file
// name.
func (l *Loader) LoadDir(dir string) ([]*OperationDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read operations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*OperationDefinition, 0, len(names))
	for _, name := range names {
		def, err := l.Load(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// checkDefinition applies semantic rules the struct tags can't express.
func checkDefinition(def *OperationDefinition) error {
	seen := map[string]bool{}
	for _, p := range def.Parameters {
		if seen[p.Name] {
			return NewPermanentError(
				fmt.Sprintf("duplicate parameter %q", p.Name), nil).
				WithCode(ErrCodeValidation)
		}
		seen[p.Name] = true
	}

	for _, pre := range def.Prerequisites {
		if pre.Name == "" && pre.NameFrom == "" {
			return NewPermanentError(
				fmt.Sprintf("prerequisite %s needs a name or name_from", pre.ResourceType), nil).
				WithCode(ErrCodeValidation)
		}
	}

	if def.Idempotency.Enabled && def.Idempotency.Check == "" {
		return NewPermanentError("idempotency enabled without a check command", nil).
			WithCode(ErrCodeValidation)
	}

	if def.Duration.Timeout != 0 && def.Duration.Timeout < def.Duration.Expected {
		return NewPermanentError("timeout shorter than expected duration", nil).
			WithCode(ErrCodeValidation)
	}

	return nil
}

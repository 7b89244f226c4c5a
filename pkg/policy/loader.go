package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LoadFromPaths loads policies from .rego files and directories. A
// directory is walked recursively; unreadable or unparseable files are
// logged and skipped so one bad file doesn't disable the whole set.
func LoadFromPaths(_ context.Context, paths []string, logger zerolog.Logger) ([]Policy, error) {
	var policies []Policy

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := loadFile(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(file, ".rego") {
				return nil
			}
			p, err := loadFile(file)
			if err != nil {
				logger.Warn().Err(err).Str("path", file).Msg("skipping policy file")
				return nil
			}
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk policy directory %s: %w", path, err)
		}
	}

	return policies, nil
}

// loadFile reads one .rego file into a Policy. The policy name comes
// from the file name, the description from leading comments.
func loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	source := string(data)
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(source),
		Rego:        source,
		Severity:    SeverityWarning,
		Enabled:     true,
	}, nil
}

// leadingComment collects the comment block before the first code line.
func leadingComment(source string) string {
	var b strings.Builder
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(comment)
			}
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return b.String()
}

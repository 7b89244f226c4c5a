package engine

import (
	"fmt"
	"regexp"

	"github.com/spf13/viper"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// ResolveParameters computes the effective value of every declared
// parameter using layered resolution: explicit value > config binding >
// declared default. A required parameter with no resolvable value fails
// with a validation error before any step executes.
func ResolveParameters(def *OperationDefinition, explicit map[string]string, cfg *viper.Viper) (map[string]string, error) {
	resolved := make(map[string]string, len(def.Parameters))

	for _, p := range def.Parameters {
		if v, ok := explicit[p.Name]; ok {
			resolved[p.Name] = v
			continue
		}

		if cfg != nil {
			key := p.ConfigKey
			if key == "" {
				key = "parameters." + p.Name
			}
			if cfg.IsSet(key) {
				resolved[p.Name] = cfg.GetString(key)
				continue
			}
		}

		if p.Default != "" {
			resolved[p.Name] = p.Default
			continue
		}

		if p.Required {
			return nil, NewPermanentError(
				fmt.Sprintf("required parameter %q has no resolvable value", p.Name), nil).
				WithCode(ErrCodeValidation)
		}
	}

	return resolved, nil
}

// Substitute replaces {{NAME}} placeholders in a command with resolved
// parameter values. An unresolved placeholder substitutes to the empty
// string and reports through warn; execution proceeds. Required
// parameters are checked by ResolveParameters before this runs.
func Substitute(command string, params map[string]string, warn func(name string)) string {
	return placeholderPattern.ReplaceAllStringFunc(command, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := params[name]; ok {
			return v
		}
		if warn != nil {
			warn(name)
		}
		return ""
	})
}

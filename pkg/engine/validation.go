package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// runValidation evaluates the definition's post-execution checks. The
// first failing check aborts with a permanent error; the executor treats
// that like a step failure and rolls back.
func (e *Executor) runValidation(ctx context.Context, def *OperationDefinition, params map[string]string) error {
	for i, check := range def.Validation {
		if err := e.runCheck(ctx, check, params); err != nil {
			return NewPermanentError(
				fmt.Sprintf("validation check %d (%s) failed", i+1, check.Type), err).
				WithCode(ErrCodeStepFailed)
		}
	}
	return nil
}

func (e *Executor) runCheck(ctx context.Context, check ValidationCheck, params map[string]string) error {
	switch check.Type {
	case "custom":
		command := Substitute(check.Command, params, nil)
		out, err := e.runner.Run(ctx, command)
		if err != nil {
			return fmt.Errorf("predicate failed: %w: %s", err, strings.TrimSpace(out))
		}
		return nil

	case "resource_exists", "provisioning_state", "property_equals":
		if e.querier == nil {
			return fmt.Errorf("resource check declared but no querier configured")
		}
		name := Substitute(check.Name, params, nil)
		group := Substitute(check.ResourceGroup, params, nil)
		r, err := e.querier.QueryResource(ctx, check.ResourceType, name, group)
		if err != nil {
			return fmt.Errorf("resource %s/%s: %w", check.ResourceType, name, err)
		}

		switch check.Type {
		case "provisioning_state":
			want := check.State
			if want == "" {
				want = "Succeeded"
			}
			if !strings.EqualFold(r.ProvisioningState, want) {
				return fmt.Errorf("provisioning state is %q, want %q", r.ProvisioningState, want)
			}
		case "property_equals":
			got, err := propertyAt(r.Properties, check.Property)
			if err != nil {
				return err
			}
			if got != check.Value {
				return fmt.Errorf("property %s is %q, want %q", check.Property, got, check.Value)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown check type %q", check.Type)
	}
}

// propertyAt walks a dot-separated path into the properties payload and
// returns the value rendered as a string. Numbers keep their literal
// form so "2" compares as "2", not "2e+00".
func propertyAt(properties json.RawMessage, path string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(properties))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return "", fmt.Errorf("unparseable properties: %w", err)
	}

	v := root
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("property %s not found", path)
		}
		v, ok = m[part]
		if !ok {
			return "", fmt.Errorf("property %s not found", path)
		}
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

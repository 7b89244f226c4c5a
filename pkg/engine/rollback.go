package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/azkit/azkit/pkg/stores"
)

// runRollback executes the declared rollback steps in strict reverse
// declaration order. The full command sequence is written to a recovery
// script before anything runs, so a human can replay the cleanup even if
// automatic rollback is incomplete. Each step is best-effort: a failure
// logs a warning and the sequence continues. Returns the script path, or
// "" when the operation declares no rollback.
func (e *Executor) runRollback(ctx context.Context, opID string, def *OperationDefinition, params map[string]string) string {
	if len(def.Rollback) == 0 {
		return ""
	}
	log := e.logger.WithOperationID(opID)

	// Rollback must not inherit the failed run's deadline.
	rbCtx := context.WithoutCancel(ctx)

	commands := make([]string, 0, len(def.Rollback))
	names := make([]string, 0, len(def.Rollback))
	for i := len(def.Rollback) - 1; i >= 0; i-- {
		step := def.Rollback[i]
		commands = append(commands, Substitute(step.Command, params, e.substitutionWarner(ctx, opID, log)))
		names = append(names, step.Name)
	}

	script, err := e.writeRecoveryScript(opID, def, names, commands)
	if err != nil {
		log.WithError(err).Warn("failed to write recovery script")
	} else {
		e.appendLog(ctx, opID, stores.LogLevelInfo, "recovery script written to "+script)
	}

	failures := 0
	for i, command := range commands {
		log.Infof("rollback step %d/%d: %s", i+1, len(commands), names[i])
		out, runErr := e.runner.Run(rbCtx, command)
		if runErr != nil {
			failures++
			log.WithError(runErr).Warnf("rollback step %s failed, continuing", names[i])
			e.appendLog(ctx, opID, stores.LogLevelWarning,
				fmt.Sprintf("rollback step %s failed: %v: %s", names[i], runErr, strings.TrimSpace(out)))
			continue
		}
		e.appendLog(ctx, opID, stores.LogLevelInfo,
			fmt.Sprintf("rollback step %s completed", names[i]))
	}

	if failures > 0 {
		e.metrics.RecordRollback("partial")
		e.appendLog(ctx, opID, stores.LogLevelWarning,
			fmt.Sprintf("rollback incomplete, %d of %d steps failed; replay %s manually", failures, len(commands), script))
	} else {
		e.metrics.RecordRollback("completed")
	}

	return script
}

// writeRecoveryScript persists the rollback command sequence as a
// standalone executable script in the recovery directory.
func (e *Executor) writeRecoveryScript(opID string, def *OperationDefinition, names, commands []string) (string, error) {
	dir := e.recoveryDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "azkit-recovery")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create recovery directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(fmt.Sprintf("# Recovery script for operation %s (%s/%s)\n", opID, def.Capability, def.Name))
	sb.WriteString(fmt.Sprintf("# Generated %s\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString("# Rollback commands in reverse declaration order.\n")
	sb.WriteString("# Steps are independent; a failure does not stop the sequence.\n\n")
	for i, command := range commands {
		sb.WriteString(fmt.Sprintf("# %d. %s\n", i+1, names[i]))
		sb.WriteString(command)
		sb.WriteString("\n\n")
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-rollback.sh", opID))
	if err := os.WriteFile(path, []byte(sb.String()), 0o700); err != nil {
		return "", fmt.Errorf("failed to write recovery script: %w", err)
	}

	return path, nil
}

package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/azkit/azkit/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [directory]",
		Short: "Watch a definitions directory, re-validating on change",
		Long: `Watch the operations directory and re-validate any definition that
is created or modified. Useful while authoring definitions; nothing is
ever executed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			dir := a.cfg.GetString("operations.dir")
			if len(args) > 0 {
				dir = args[0]
			}

			watcher, err := engine.NewWatcher(dir, a.logger)
			if err != nil {
				return err
			}

			err = watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	return cmd
}

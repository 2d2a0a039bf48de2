package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/hatch/internal/cliutil"
	"github.com/Paintersrp/hatch/spawn"
)

// exitError carries a child's exit code through cobra error handling so the
// parent process can propagate it.
type exitError struct {
	status spawn.ExitStatus
}

func (e *exitError) Error() string {
	return e.status.String()
}

func exitCodeFor(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		if code := exit.status.Code(); code >= 0 {
			return code
		}
		if exit.status.Signaled() {
			return 128 + int(exit.status.Signal())
		}
	}
	return 1
}

func newRunCmd() *cobra.Command {
	var (
		envPairs   []string
		nullStdin  bool
		supervised bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Spawn a single command and wait for it to exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := spawn.New(args[0]).Args(args[1:]...)
			for _, pair := range envPairs {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
				}
				builder.Env(key, value)
			}
			if nullStdin {
				builder.Stdin(spawn.Null())
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "spawning %s\n", cliutil.RedactSecrets(builder.String()))

			var (
				child *spawn.Child
				err   error
			)
			if supervised {
				child, err = builder.SpawnSupervised()
			} else {
				child, err = builder.Spawn()
			}
			if err != nil {
				return fmt.Errorf("spawn %s: %w", args[0], err)
			}
			if supervised {
				fmt.Fprintf(cmd.ErrOrStderr(), "child %d held at exec; resume with SIGCONT\n", child.ID())
			}

			status, err := child.Wait()
			if err != nil {
				return fmt.Errorf("wait for pid %d: %w", child.ID(), err)
			}
			if !status.Success() {
				return &exitError{status: status}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment override as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&nullStdin, "null-stdin", false, "Attach the child's stdin to /dev/null")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "Hold the child stopped at exec until resumed with SIGCONT")

	return cmd
}

package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifestFile string
	buffer := eventBufferFromEnv()

	root := &cobra.Command{
		Use:   "hatch",
		Short: "Process spawner and single-node job supervisor",
	}

	root.PersistentFlags().
		StringVarP(&manifestFile, "file", "f", "hatch.yaml", "Path to job manifest")
	root.PersistentFlags().
		IntVar(&buffer, "event-buffer", buffer, "Buffered event capacity per supervisor stream")

	ctx := &context{manifestFile: &manifestFile, eventBuffer: &buffer}
	root.AddCommand(newRunCmd())
	root.AddCommand(newUpCmd(ctx))
	root.AddCommand(newValidateCmd(ctx))
	root.AddCommand(newTuiCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

type context struct {
	manifestFile *string
	eventBuffer  *int
}

func (c *context) bufferSize() int {
	if c.eventBuffer == nil || *c.eventBuffer <= 0 {
		return defaultEventBuffer
	}
	return *c.eventBuffer
}

const defaultEventBuffer = 256

func eventBufferFromEnv() int {
	if value := os.Getenv("HATCH_EVENT_BUFFER"); value != "" {
		if size, err := strconv.Atoi(value); err == nil && size > 0 {
			return size
		}
	}
	return defaultEventBuffer
}

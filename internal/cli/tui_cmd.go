package cli

import (
	stdcontext "context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/hatch/internal/manifest"
	"github.com/Paintersrp/hatch/internal/supervise"
	"github.com/Paintersrp/hatch/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Supervise the manifest with an interactive status interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("tui requires an interactive terminal")
			}

			doc, err := manifest.Load(*ctx.manifestFile)
			if err != nil {
				return err
			}

			return runJobTUI(cmd, ctx, doc)
		},
	}

	return cmd
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// newUI is swappable so command tests can observe events without a terminal.
var newUI = func() jobUI {
	return tui.New()
}

type jobUI interface {
	Run(ctx stdcontext.Context) error
	Stop()
	Done() <-chan struct{}
	EventSink() chan<- supervise.Event
	CloseEvents()
}

func runJobTUI(cmd *cobra.Command, ctx *context, doc *manifest.Manifest) error {
	sup := supervise.New(ctx.bufferSize())
	if err := sup.Up(cmd.Context(), doc); err != nil {
		return fmt.Errorf("start jobs: %w", err)
	}

	ui := newUI()

	// The UI drains its event channel until it closes, so the supervisor has
	// to be stopped as soon as the UI begins shutting down.
	go func() {
		<-ui.Done()
		_ = sup.Stop()
	}()

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for evt := range sup.Events() {
			ui.EventSink() <- evt
		}
		ui.CloseEvents()
	}()

	err := ui.Run(cmd.Context())
	<-forwarded

	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return sup.Wait()
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/hatch/internal/manifest"
)

func newValidateCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a job manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := manifest.Load(*ctx.manifestFile)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d job(s) ok\n", *ctx.manifestFile, len(doc.Jobs))
			return nil
		},
	}
	return cmd
}

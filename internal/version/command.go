package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand attaches a `version` subcommand to the provided root command.
// It prints detailed build info, or only the semantic version with --short.
func AttachCobraVersionCommand(root *cobra.Command) {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Long:  "Print detailed version information including build metadata, commit hash, build timestamp and Go toolchain. Build metadata is injected during the build process from Git tags and repository state.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := Full()
			if short {
				out = Short()
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the semantic version")

	root.AddCommand(cmd)
}

// harmonicsctl is the command-line surface over the harmonics runtime:
// graph compilation and inspection, single-node runs, diff and
// merge tooling, dataset cache helpers, model conversion wiring, and
// plugin packaging.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sbl8/harmonics/internal/hlog"
)

func main() {
	root := &cobra.Command{
		Use:           "harmonicsctl",
		Short:         "Compile, inspect, and run harmonics dataflow graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		if verbose {
			hlog.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(
		newCompileCmd(),
		newRunCmd(),
		newGraphInfoCmd(),
		newGraphDiffCmd(),
		newShellCmd(),
		newDatasetCacheCmd(),
		newModelConvertCmd(),
		newPluginPackagerCmd(),
	)

	if err := root.Execute(); err != nil {
		hlog.For("cli").WithError(err).Error("command failed")
		os.Exit(1)
	}
}

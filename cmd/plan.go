package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/parafetch/internal/output"
	"github.com/tanq16/parafetch/internal/planner"
	"github.com/tanq16/parafetch/internal/utils"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [SIZE]",
		Short: "Print the byte ranges a download of SIZE would be split into",
		Example: `  parafetch plan 1000 -c 4
  parafetch plan 1.5GB`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			size, err := utils.ParseBytes(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			conns := planner.ClampConnections(connections)
			output.PrintHeader(fmt.Sprintf("%s over %d connection(s)", utils.FormatSize(size), conns))
			ranges := planner.Plan(size, conns)
			if len(ranges) == 0 {
				output.PrintWarning("unknown or empty size: fetched as a single request")
				return
			}
			for _, r := range ranges {
				fmt.Printf("  %s %-24s %s\n", output.FDebug(fmt.Sprintf("%d.", r.Index+1)), r.Header(), output.FDetail(utils.FormatBytes(uint64(r.Size(size)))))
			}
		},
	}
	return cmd
}

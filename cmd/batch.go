package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/parafetch/internal/config"
	"github.com/tanq16/parafetch/internal/output"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Download every entry of a YAML batch file",
		Long: `Download every entry of a YAML batch file.

Batch file format:
  dir: downloads
  downloads:
    - link: https://example.com/a.iso
    - link: s3://bucket/b.tar.gz
      dir: archives
      filename: b.tgz`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			jobs, err := config.LoadBatch(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			runJobs(cmd, jobs)
		},
	}
	return cmd
}

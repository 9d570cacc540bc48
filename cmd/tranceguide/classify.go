package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/tranceguide/pkg/core/live"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show which technique a request would select",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), live.DetectTechnique(strings.Join(args, " ")))
		},
	}
}

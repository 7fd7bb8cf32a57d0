package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/brandely/internal/app"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <text>",
		Short: "Run text through the safety gate and print the verdict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := app.BuildGate(cfg)
			if err != nil {
				return err
			}
			verdict := gate.Evaluate(strings.Join(args, " "))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(verdict)
		},
	}
}

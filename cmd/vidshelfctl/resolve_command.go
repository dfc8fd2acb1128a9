package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snarg/vidshelf/internal/media"
)

func newResolveCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "resolve <fullPath> <sourceRoot>",
		Short: "Print the source-relative path the player would use for a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strict {
				rel, err := media.RelativePath(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rel)
				return nil
			}
			rel := media.SoftRelativePath(args[0], args[1])
			if rel == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "no identifier for this file")
			}
			fmt.Fprintln(cmd.OutOrStdout(), rel)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail with the reason instead of printing an empty identifier")
	return cmd
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/finetune"
)

func newDatasetCommand() *cobra.Command {
	var (
		out      string
		envFiles []string
	)
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Format the configured dataset into a JSONL file without training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			eos, err := finetune.New(settings, nil).WriteDataset(cmd.Context(), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dataset %s written to %s (eos %q)\n", settings.DatasetName, out, eos)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "train.jsonl", "JSONL file to write.")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files read before the environment. Defaults to .env when present.")
	return cmd
}

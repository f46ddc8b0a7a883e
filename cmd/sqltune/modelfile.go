// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sqltune/sqltune/pkg/finetune"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

const (
	defaultOutputRoot = "./data/models/output"
	defaultBaseModel  = "unsloth/Llama-3.1-8B-unsloth-bnb-4bit"
)

type modelfileOptions struct {
	fineTunedName string
	outputRoot    string
	template      string
	baseModel     string
	eosToken      string
	quantization  string
}

func newModelfileCommand() *cobra.Command {
	o := &modelfileOptions{}
	cmd := &cobra.Command{
		Use:   "modelfile",
		Short: "Write <output-root>/<fine-tuned-name>/Modelfile for an exported model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := o.run()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Modelfile written to %s\n", path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.fineTunedName, "fine-tuned-name", "", "Name of the fine-tuned model.")
	f.StringVar(&o.outputRoot, "output-root", defaultOutputRoot, "Directory holding one subdirectory per fine-tuned model.")
	f.StringVar(&o.template, "template", "", "Modelfile template used instead of the embedded one.")
	f.StringVar(&o.baseModel, "base-model", envOr("BASE_MODEL", defaultBaseModel), "Base model whose preset supplies the stop parameters.")
	f.StringVar(&o.eosToken, "eos-token", os.Getenv("EOS_TOKEN"), "EOS token closing the template. Defaults to the preset token.")
	f.StringVar(&o.quantization, "quantization", envOr("QUANTIZATION_METHOD", "f16"), "Quantization method of the exported GGUF file.")
	_ = cmd.MarkFlagRequired("fine-tuned-name")
	return cmd
}

func (o *modelfileOptions) run() (string, error) {
	_, preset, err := plugin.PresetRegister.Resolve(o.baseModel)
	if err != nil {
		return "", err
	}
	eos := o.eosToken
	if eos == "" {
		eos = preset.GetTuningParameters().EOSToken
	}
	modelDir := filepath.Join(o.outputRoot, o.fineTunedName)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", err
	}
	return finetune.WriteModelfile(finetune.ModelfileOptions{
		FineTunedName:      o.fineTunedName,
		ModelDir:           modelDir,
		TemplatePath:       o.template,
		QuantizationMethod: o.quantization,
		EOSToken:           eos,
		Params:             preset.GetModelfileParameters(),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

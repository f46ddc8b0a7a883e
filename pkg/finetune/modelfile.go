// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package finetune

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/modelfile"
)

// ModelfileOptions describes one Modelfile to write.
type ModelfileOptions struct {
	FineTunedName string
	ModelDir      string
	// TemplatePath overrides the embedded template.
	TemplatePath string
	// GGUFFile is looked up in ModelDir when empty.
	GGUFFile           string
	QuantizationMethod string
	EOSToken           string
	Params             *model.ModelfileParam
}

// WriteModelfile renders the template and writes <ModelDir>/Modelfile.
func WriteModelfile(opts ModelfileOptions) (string, error) {
	tpl, err := modelfile.LoadTemplate(opts.TemplatePath)
	if err != nil {
		return "", err
	}
	gguf := opts.GGUFFile
	if gguf == "" {
		gguf, err = modelfile.LocateGGUF(opts.ModelDir, opts.QuantizationMethod)
		if err != nil {
			gguf = modelfile.GGUFFileName(opts.QuantizationMethod)
			klog.InfoS("No exported model found, referencing the default file name", "modelDir", opts.ModelDir, "gguf", gguf)
		}
	}
	content, err := modelfile.Render(tpl, modelfile.Data{
		FineTunedName: opts.FineTunedName,
		GGUFFile:      gguf,
		EOSToken:      opts.EOSToken,
		Params:        opts.Params,
	})
	if err != nil {
		return "", err
	}
	path, err := modelfile.Write(opts.ModelDir, content)
	if err != nil {
		return "", fmt.Errorf("failed to write Modelfile: %w", err)
	}
	return path, nil
}

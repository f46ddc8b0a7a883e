// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package modelfile

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/utils"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"k8s.io/klog/v2"
)

//go:embed templates/modelfile_template.txt
var DefaultTemplate string

// DefaultChatTemplate is the TEMPLATE body matching the prompt the dataset is formatted with.
//
//go:embed templates/chat_template.txt
var DefaultChatTemplate string

// Data holds the values substituted into a Modelfile template.
type Data struct {
	FineTunedName string
	GGUFFile      string
	EOSToken      string
	Params        *model.ModelfileParam
}

// Vars returns the template placeholders: fine_tuned_name, gguf_file, eos_token, template and parameters.
func (d Data) Vars() map[string]string {
	return map[string]string{
		"fine_tuned_name": d.FineTunedName,
		"gguf_file":       d.GGUFFile,
		"eos_token":       d.EOSToken,
		"template":        d.chatTemplate(),
		"parameters":      d.parameterLines(),
	}
}

// chatTemplate is the preset's TEMPLATE body, or the default one, followed by the EOS token.
func (d Data) chatTemplate() string {
	tpl := DefaultChatTemplate
	if d.Params != nil && d.Params.Template != "" {
		tpl = d.Params.Template
	}
	return strings.TrimRight(tpl, "\n") + d.EOSToken
}

// parameterLines renders one PARAMETER line per stop sequence, EOS first, then
// the remaining parameters in key order.
func (d Data) parameterLines() string {
	var stops []string
	if d.EOSToken != "" {
		stops = append(stops, d.EOSToken)
	}
	var extra map[string]string
	if d.Params != nil {
		stops = append(stops, d.Params.Stop...)
		extra = d.Params.Parameters
	}
	var lines []string
	for _, s := range lo.Uniq(stops) {
		lines = append(lines, fmt.Sprintf("PARAMETER stop %q", s))
	}
	keys := lo.Keys(extra)
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("PARAMETER %s %s", k, extra[k]))
	}
	return strings.Join(lines, "\n")
}

// Render substitutes data into tpl. A placeholder without a value is an error.
func Render(tpl string, data Data) (string, error) {
	if data.FineTunedName == "" {
		return "", fmt.Errorf("fine-tuned model name is required")
	}
	if tpl == "" {
		tpl = DefaultTemplate
	}
	out, err := utils.SubstituteTemplate(tpl, data.Vars())
	if err != nil {
		return "", fmt.Errorf("failed to render Modelfile: %w", err)
	}
	return out, nil
}

// LoadTemplate reads a template file, or returns the default template for an empty path.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read Modelfile template: %w", err)
	}
	return string(data), nil
}

// Write stores content as <modelDir>/Modelfile. modelDir must exist.
func Write(modelDir, content string) (string, error) {
	info, err := os.Stat(modelDir)
	if err != nil {
		return "", fmt.Errorf("model directory %s: %w", modelDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("model directory %s is not a directory", modelDir)
	}
	path := filepath.Join(modelDir, consts.ModelfileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	klog.InfoS("Wrote Modelfile", "path", path)
	return path, nil
}

// GGUFFileName is the file name the trainer gives an export with the given quantization method.
func GGUFFileName(quantizationMethod string) string {
	return fmt.Sprintf("unsloth.%s.gguf", strings.ToUpper(quantizationMethod))
}

// LocateGGUF finds the exported model in modelDir. The file named after the
// quantization method wins; otherwise exactly one .gguf file must exist.
func LocateGGUF(modelDir, quantizationMethod string) (string, error) {
	expected := GGUFFileName(quantizationMethod)
	if _, err := os.Stat(filepath.Join(modelDir, expected)); err == nil {
		return expected, nil
	}
	matches, err := filepath.Glob(filepath.Join(modelDir, "*.gguf"))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no .gguf file found in %s", modelDir)
	case 1:
		return filepath.Base(matches[0]), nil
	default:
		names := lo.Map(matches, func(m string, _ int) string { return filepath.Base(m) })
		return "", fmt.Errorf("found several .gguf files in %s and none named %s: %v", modelDir, expected, names)
	}
}

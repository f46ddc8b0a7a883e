// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package dataset

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sqltune/sqltune/pkg/utils"
	"k8s.io/klog/v2"
)

//go:embed templates/alpaca_prompt.txt
var DefaultPromptTemplate string

// Columns substituted into the prompt template.
var PromptFields = []string{"sql_context", "sql_prompt", "sql", "sql_explanation"}

// FineTuneDataset is a named dataset split used for fine-tuning.
type FineTuneDataset struct {
	Name    string
	Config  string
	Split   string
	MaxRows int
	Client  *RowsClient
}

func NewFineTuneDataset(name, split string) *FineTuneDataset {
	return &FineTuneDataset{
		Name:   name,
		Config: "default",
		Split:  split,
	}
}

// Load fetches the rows of the split. An empty split is an error.
func (d *FineTuneDataset) Load(ctx context.Context) ([]Row, error) {
	client := d.Client
	if client == nil {
		client = NewRowsClient("", "")
	}
	rows, err := client.FetchRows(ctx, d.Name, d.Config, d.Split, d.MaxRows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset %s (split %s) has no rows", d.Name, d.Split)
	}
	klog.InfoS("Loaded dataset", "dataset", d.Name, "split", d.Split, "rows", len(rows))
	return rows, nil
}

// MissingFieldError reports a row that lacks one of the prompt columns.
type MissingFieldError struct {
	Index int
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("row %d: missing field %q", e.Index, e.Field)
}

// FormatForFineTuning renders every row into the prompt template and appends eos.
// The result keeps the row order.
func FormatForFineTuning(rows []Row, template, eos string) ([]string, error) {
	if template == "" {
		template = DefaultPromptTemplate
	}
	texts := make([]string, 0, len(rows))
	for i, row := range rows {
		vars := make(map[string]string, len(PromptFields))
		for _, field := range PromptFields {
			v, ok := row[field]
			if !ok || v == nil {
				return nil, &MissingFieldError{Index: i, Field: field}
			}
			if s, isString := v.(string); isString {
				vars[field] = s
			} else {
				vars[field] = fmt.Sprint(v)
			}
		}
		text, err := utils.SubstituteTemplate(template, vars)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		texts = append(texts, text+eos)
	}
	return texts, nil
}

type textRecord struct {
	Text string `json:"text"`
}

// WriteJSONL writes one {"text": ...} object per line.
func WriteJSONL(path string, texts []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, t := range texts {
		if err := enc.Encode(textRecord{Text: t}); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

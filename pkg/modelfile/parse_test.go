// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package modelfile

import (
	"testing"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenderedDefault(t *testing.T) {
	out, err := Render("", Data{
		FineTunedName: "sql-llama",
		GGUFFile:      "unsloth.F16.gguf",
		EOSToken:      "<|end_of_text|>",
		Params: &model.ModelfileParam{
			Stop:       []string{"<|eot_id|>"},
			Parameters: map[string]string{"temperature": "1.5"},
		},
	})
	require.NoError(t, err)

	parsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "./unsloth.F16.gguf", parsed.From)
	assert.Contains(t, parsed.Template, "### Response:\n{{ .Response }}<|end_of_text|>")
	assert.Equal(t, map[string][]string{
		"stop":        {"<|end_of_text|>", "<|eot_id|>"},
		"temperature": {"1.5"},
	}, parsed.Parameters)
}

func TestParse(t *testing.T) {
	tests := map[string]struct {
		content     string
		expected    *Parsed
		expectedErr string
	}{
		"single line values": {
			content: "# comment\nfrom ./m.gguf\nSYSTEM \"You write SQL.\"\nTEMPLATE \"\"\"{{ .Prompt }}\"\"\"\nADAPTER ./lora.gguf\n",
			expected: &Parsed{
				From:       "./m.gguf",
				System:     "You write SQL.",
				Template:   "{{ .Prompt }}",
				Adapter:    "./lora.gguf",
				Parameters: map[string][]string{},
			},
		},
		"multi line license": {
			content: "FROM m\nLICENSE \"\"\"line one\nline two\"\"\"\nPARAMETER num_ctx 4096",
			expected: &Parsed{
				From:       "m",
				License:    "line one\nline two",
				Parameters: map[string][]string{"num_ctx": {"4096"}},
			},
		},
		"no from": {
			content:     "PARAMETER stop \"</s>\"\n",
			expectedErr: "no FROM directive",
		},
		"unterminated": {
			content:     "FROM m\nTEMPLATE \"\"\"open\n",
			expectedErr: "unterminated",
		},
		"unknown directive": {
			content:     "FROM m\nQUANTIZE q4\n",
			expectedErr: "unknown directive",
		},
		"parameter without value": {
			content:     "FROM m\nPARAMETER stop\n",
			expectedErr: "needs a name and a value",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			parsed, err := Parse(tc.content)
			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, parsed)
		})
	}
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfigMaps(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	merged := MergeConfigMaps(base, map[string]string{"b": "3", "c": "4"})
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged)
	assert.Equal(t, "2", base["b"], "base map must not be modified")
}

func TestBuildCmdStr(t *testing.T) {
	tests := map[string]struct {
		base     string
		params   []map[string]string
		expected string
	}{
		"no params": {
			base:     "accelerate launch",
			expected: "accelerate launch",
		},
		"sorted params": {
			base:     "accelerate launch",
			params:   []map[string]string{{"num_processes": "1", "mixed_precision": "bf16"}},
			expected: "accelerate launch --mixed_precision=bf16 --num_processes=1",
		},
		"bare flag": {
			base:     "python3 train.py",
			params:   []map[string]string{{"verbose": ""}},
			expected: "python3 train.py --verbose",
		},
		"groups keep their order": {
			base:     "cmd",
			params:   []map[string]string{{"z": "1"}, {"a": "2"}},
			expected: "cmd --z=1 --a=2",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildCmdStr(tc.base, tc.params...))
		})
	}
}

func TestShellCmd(t *testing.T) {
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, ShellCmd("echo hi"))
}

func TestSubstituteTemplate(t *testing.T) {
	tests := map[string]struct {
		tpl         string
		vars        map[string]string
		expected    string
		missingKeys []string
	}{
		"braced and bare placeholders": {
			tpl:      "FROM ./${name}/model.gguf # $name",
			vars:     map[string]string{"name": "sql-llama"},
			expected: "FROM ./sql-llama/model.gguf # sql-llama",
		},
		"escaped dollar": {
			tpl:      "cost: $$5 for $item",
			vars:     map[string]string{"item": "tea"},
			expected: "cost: $5 for tea",
		},
		"extra vars are ignored": {
			tpl:      "hello",
			vars:     map[string]string{"unused": "x"},
			expected: "hello",
		},
		"go template braces pass through": {
			tpl:      "{{ .Prompt }} ${eos}",
			vars:     map[string]string{"eos": "</s>"},
			expected: "{{ .Prompt }} </s>",
		},
		"missing keys are reported sorted": {
			tpl:         "${b} ${a} ${b}",
			vars:        map[string]string{},
			missingKeys: []string{"a", "b"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := SubstituteTemplate(tc.tpl, tc.vars)
			if tc.missingKeys != nil {
				var missingErr *MissingKeysError
				require.True(t, errors.As(err, &missingErr))
				assert.Equal(t, tc.missingKeys, missingErr.Keys)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, out)
		})
	}
}

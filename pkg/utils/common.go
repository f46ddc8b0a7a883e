// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package utils

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// MergeConfigMaps returns a copy of baseMap with the entries of overrideMap applied.
func MergeConfigMaps(baseMap, overrideMap map[string]string) map[string]string {
	merged := make(map[string]string)
	for k, v := range baseMap {
		merged[k] = v
	}

	// Override with values from overrideMap
	for k, v := range overrideMap {
		merged[k] = v
	}

	return merged
}

// BuildCmdStr appends every parameter to baseCommand as --key=value in key order.
// Parameters with an empty value are rendered as bare flags.
func BuildCmdStr(baseCommand string, runParams ...map[string]string) string {
	updatedBaseCommand := baseCommand
	for _, params := range runParams {
		keys := lo.Keys(params)
		sort.Strings(keys)
		for _, key := range keys {
			value := params[key]
			if value == "" {
				updatedBaseCommand = fmt.Sprintf("%s --%s", updatedBaseCommand, key)
			} else {
				updatedBaseCommand = fmt.Sprintf("%s --%s=%s", updatedBaseCommand, key, value)
			}
		}
	}
	return updatedBaseCommand
}

func ShellCmd(command string) []string {
	return []string{
		"/bin/sh",
		"-c",
		command,
	}
}

// MissingKeysError lists the placeholders a template referenced but no value was given for.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("template references undefined placeholder(s): %s", strings.Join(e.Keys, ", "))
}

// SubstituteTemplate replaces $name and ${name} placeholders with values from vars.
// "$$" yields a literal "$". Any placeholder without a value fails the whole substitution.
func SubstituteTemplate(tpl string, vars map[string]string) (string, error) {
	missing := map[string]struct{}{}
	out := os.Expand(tpl, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := vars[name]
		if !ok {
			missing[name] = struct{}{}
		}
		return v
	})
	if len(missing) > 0 {
		keys := lo.Keys(missing)
		sort.Strings(keys)
		return "", &MissingKeysError{Keys: keys}
	}
	return out, nil
}

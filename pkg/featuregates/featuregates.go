// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package featuregates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqltune/sqltune/pkg/utils/consts"
	cliflag "k8s.io/component-base/cli/flag"
)

var (
	// FeatureGates is a map that holds the feature gates and their default values for sqltune.
	FeatureGates = map[string]bool{
		consts.FeatureFlagOllamaRegistration: false,
		consts.FeatureFlagParallelDataset:    true,
	}
)

// ParseAndValidateFeatureGates parses the feature gates flag and updates FeatureGates.
// Unknown gates are reported together; known gates in the same flag are still applied.
func ParseAndValidateFeatureGates(featureGates string) error {
	gateMap := map[string]bool{}
	if err := cliflag.NewMapStringBool(&gateMap).Set(featureGates); err != nil {
		return err
	}
	if len(gateMap) == 0 {
		// no feature gates set
		return nil
	}

	var invalid []string
	for key, val := range gateMap {
		if _, ok := FeatureGates[key]; !ok {
			invalid = append(invalid, key)
			continue
		}
		FeatureGates[key] = val
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid feature gate(s) %v", invalid)
	}
	return nil
}

// Enabled reports whether the named gate is on.
func Enabled(name string) bool {
	return FeatureGates[name]
}

// String renders every gate in the form accepted by ParseAndValidateFeatureGates.
func String() string {
	keys := make([]string, 0, len(FeatureGates))
	for k := range FeatureGates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%t", k, FeatureGates[k]))
	}
	return strings.Join(pairs, ",")
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sqltune/sqltune/pkg/model"
)

// GenericPresetName is the preset used when no registered family matches a base model.
const GenericPresetName = "generic"

type Registration struct {
	Name     string
	Instance model.Model
}

type ModelRegister struct {
	sync.RWMutex
	models map[string]*Registration
}

var PresetRegister ModelRegister

// Register allows model to be added
func (reg *ModelRegister) Register(r *Registration) {
	reg.Lock()
	defer reg.Unlock()
	if r.Name == "" {
		panic("model name is not specified")
	}

	if reg.models == nil {
		reg.models = make(map[string]*Registration)
	}

	reg.models[r.Name] = r
}

func (reg *ModelRegister) MustGet(name string) model.Model {
	reg.RLock()
	defer reg.RUnlock()
	if _, ok := reg.models[name]; ok {
		return reg.models[name].Instance
	}
	panic("model is not registered")
}

func (reg *ModelRegister) ListModelNames() []string {
	reg.RLock()
	defer reg.RUnlock()
	n := []string{}
	for k := range reg.models {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

func (reg *ModelRegister) Has(name string) bool {
	reg.RLock()
	defer reg.RUnlock()
	_, ok := reg.models[name]
	return ok
}

// Resolve picks the preset for a Hugging Face repo id. The preset with the longest
// matching repo pattern wins; ties go to the lexically smaller preset name.
// Unmatched models resolve to the generic preset when one is registered.
func (reg *ModelRegister) Resolve(baseModel string) (string, model.Model, error) {
	reg.RLock()
	defer reg.RUnlock()
	id := strings.ToLower(baseModel)

	bestName, bestLen := "", 0
	for name, r := range reg.models {
		params := r.Instance.GetTuningParameters()
		if params == nil {
			continue
		}
		for _, pattern := range params.RepoPatterns {
			if pattern == "" || !strings.Contains(id, pattern) {
				continue
			}
			if len(pattern) > bestLen || (len(pattern) == bestLen && name < bestName) {
				bestName, bestLen = name, len(pattern)
			}
		}
	}
	if bestName != "" {
		return bestName, reg.models[bestName].Instance, nil
	}
	if r, ok := reg.models[GenericPresetName]; ok {
		return GenericPresetName, r.Instance, nil
	}
	return "", nil, fmt.Errorf("no preset registered for base model %q", baseModel)
}

func IsValidPreset(preset string) bool {
	return PresetRegister.Has(preset)
}

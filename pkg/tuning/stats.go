// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package tuning

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/sqltune/sqltune/pkg/utils/consts"
)

// TrainerStats is the summary the trainer writes when train() returns.
type TrainerStats struct {
	GlobalStep   int                `json:"global_step"`
	TrainingLoss float64            `json:"training_loss"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func (s *TrainerStats) String() string {
	keys := lo.Keys(s.Metrics)
	sort.Strings(keys)
	metrics := make([]string, 0, len(keys))
	for _, k := range keys {
		metrics = append(metrics, fmt.Sprintf("'%s': %s", k, formatFloat(s.Metrics[k])))
	}
	return fmt.Sprintf("TrainOutput(global_step=%d, training_loss=%s, metrics={%s})",
		s.GlobalStep, formatFloat(s.TrainingLoss), strings.Join(metrics, ", "))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// LogLine renders the stats as the single line the kubernetes runner looks for in pod logs.
func (s *TrainerStats) LogLine() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return consts.TrainerStatsLogPrefix + string(data), nil
}

// ParseStatsLine decodes a line written by LogLine. ok is false when the line carries no stats.
func ParseStatsLine(line string) (stats *TrainerStats, ok bool, err error) {
	payload, found := strings.CutPrefix(strings.TrimSpace(line), strings.TrimSpace(consts.TrainerStatsLogPrefix))
	if !found {
		return nil, false, nil
	}
	stats = &TrainerStats{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), stats); err != nil {
		return nil, true, fmt.Errorf("failed to decode trainer stats %q: %w", payload, err)
	}
	return stats, true, nil
}

// FindStatsLine returns the last stats line in r, or nil when there is none.
func FindStatsLine(r io.Reader) (*TrainerStats, error) {
	var last *TrainerStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		stats, ok, err := ParseStatsLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if ok {
			last = stats
		}
	}
	return last, scanner.Err()
}

// ReadTrainerStatsFile reads the stats file the trainer writes next to its checkpoints.
func ReadTrainerStatsFile(path string) (*TrainerStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stats := &TrainerStats{}
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return stats, nil
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/featuregates"
	"github.com/sqltune/sqltune/pkg/modelfile"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"github.com/sqltune/sqltune/pkg/utils/test"
)

// fakeRunner stands in for the trainer: it records the job and exports a GGUF file.
type fakeRunner struct {
	err   error
	jobs  []*tuning.Job
	gguf  string
	stats *tuning.TrainerStats
}

func (r *fakeRunner) Run(ctx context.Context, job *tuning.Job) (*tuning.TrainerStats, error) {
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return nil, r.err
	}
	if job.Paths.ModelDir != "" && r.gguf != "" {
		if err := os.WriteFile(filepath.Join(job.Paths.ModelDir, r.gguf), []byte("GGUF"), 0o644); err != nil {
			return nil, err
		}
	}
	return r.stats, nil
}

// fakeHub serves the hub, datasets-server and ollama endpoints the pipeline talks to.
type fakeHub struct {
	sync.Mutex
	tokenizerStatus int
	rowsStatus      int
	rows            []map[string]interface{}
	committed       []string
	commitMessage   string
	repoCreated     bool
	ollamaModels    []string
}

func (f *fakeHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/test-model/resolve/main/tokenizer_config.json", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenizerStatus != http.StatusOK {
			w.WriteHeader(f.tokenizerStatus)
			_, _ = io.WriteString(w, `{"error": "Entry not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"eos_token": "<|test_eos|>"}`)
	})
	mux.HandleFunc("/rows", func(w http.ResponseWriter, r *http.Request) {
		if f.rowsStatus != http.StatusOK {
			w.WriteHeader(f.rowsStatus)
			_, _ = io.WriteString(w, `{"error": "The dataset does not exist."}`)
			return
		}
		type rowItem struct {
			RowIdx int                    `json:"row_idx"`
			Row    map[string]interface{} `json:"row"`
		}
		resp := struct {
			Rows         []rowItem `json:"rows"`
			NumRowsTotal int       `json:"num_rows_total"`
		}{NumRowsTotal: len(f.rows)}
		for i, row := range f.rows {
			resp.Rows = append(resp.Rows, rowItem{RowIdx: i, Row: row})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/repos/create", func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		f.repoCreated = true
		f.Unlock()
		_, _ = io.WriteString(w, `{"url": "https://huggingface.co/tester/test-sql-model"}`)
	})
	mux.HandleFunc("/api/models/tester/test-sql-model/preupload/main", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Files []struct {
				Path string `json:"path"`
			} `json:"files"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		type file struct {
			Path       string `json:"path"`
			UploadMode string `json:"uploadMode"`
		}
		resp := struct {
			Files []file `json:"files"`
		}{}
		for _, rf := range req.Files {
			resp.Files = append(resp.Files, file{Path: rf.Path, UploadMode: "regular"})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/models/tester/test-sql-model/commit/main", func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		defer f.Unlock()
		dec := json.NewDecoder(r.Body)
		for {
			var line struct {
				Key   string `json:"key"`
				Value struct {
					Path    string `json:"path"`
					Summary string `json:"summary"`
				} `json:"value"`
			}
			if err := dec.Decode(&line); err != nil {
				break
			}
			switch line.Key {
			case "header":
				f.commitMessage = line.Value.Summary
			case "file", "lfsFile":
				f.committed = append(f.committed, line.Value.Path)
			}
		}
		_, _ = io.WriteString(w, `{"commitUrl": "https://huggingface.co/tester/test-sql-model/commit/abc123", "commitOid": "abc123"}`)
	})
	mux.HandleFunc("/api/blobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.Lock()
		f.ollamaModels = append(f.ollamaModels, req.Model)
		f.Unlock()
		_, _ = io.WriteString(w, `{"status": "success"}`)
	})
	return mux
}

func sqlRow(i int) map[string]interface{} {
	return map[string]interface{}{
		"id":              i,
		"sql_context":     "CREATE TABLE users (id INT, name TEXT);",
		"sql_prompt":      fmt.Sprintf("How many users have id %d?", i),
		"sql":             fmt.Sprintf("SELECT COUNT(*) FROM users WHERE id = %d;", i),
		"sql_explanation": "Counts matching users.",
	}
}

var _ = Describe("Pipeline", func() {
	var (
		hub      *fakeHub
		server   *httptest.Server
		settings *config.Settings
		runner   *fakeRunner
		job      *v1alpha1.FineTuneJob
		out      *bytes.Buffer
		p        *Pipeline
	)

	BeforeEach(func() {
		hub = &fakeHub{
			tokenizerStatus: http.StatusOK,
			rowsStatus:      http.StatusOK,
			rows:            []map[string]interface{}{sqlRow(1), sqlRow(2), sqlRow(3)},
		}
		server = httptest.NewServer(hub.handler())
		DeferCleanup(server.Close)

		settings = test.MockSettings()
		settings.HFEndpoint = server.URL
		settings.DatasetsServerEndpoint = server.URL
		settings.OllamaHost = server.URL

		runner = &fakeRunner{
			gguf: "unsloth.F16.gguf",
			stats: &tuning.TrainerStats{
				GlobalStep:   60,
				TrainingLoss: 0.5236,
				Metrics:      map[string]float64{"train_runtime": 312.25},
			},
		}
		job = test.MockFineTuneJobLocal.DeepCopy()
		job.Spec.OutputDir = GinkgoT().TempDir()

		Expect(featuregates.ParseAndValidateFeatureGates("OllamaRegistration=false,ParallelDatasetFetch=true")).To(Succeed())

		out = &bytes.Buffer{}
		p = New(settings, runner)
		p.Out = out
	})

	It("should format the dataset, train, write the Modelfile and push", func(ctx SpecContext) {
		result, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())

		modelDir := filepath.Join(job.Spec.OutputDir, "test-sql-model")
		Expect(result.ModelDir).To(Equal(modelDir))
		Expect(result.PresetName).To(Equal("test-model"))
		Expect(result.EOSToken).To(Equal("<|test_eos|>"))
		Expect(result.GGUFFile).To(Equal("unsloth.F16.gguf"))
		Expect(result.Commit.CommitURL).To(Equal("https://huggingface.co/tester/test-sql-model/commit/abc123"))
		Expect(job.Status.CommitURL).To(Equal(result.Commit.CommitURL))

		By("writing one JSONL record per row")
		data, err := os.ReadFile(filepath.Join(job.Spec.OutputDir, consts.TrainingDatasetName))
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(3))
		var record struct {
			Text string `json:"text"`
		}
		Expect(json.Unmarshal([]byte(lines[1]), &record)).To(Succeed())
		Expect(record.Text).To(ContainSubstring("SQL Prompt: How many users have id 2?"))
		Expect(record.Text).To(HaveSuffix("<|test_eos|>"))

		By("writing the training config next to the dataset")
		Expect(runner.jobs).To(HaveLen(1))
		cfgData, err := os.ReadFile(runner.jobs[0].ConfigPath)
		Expect(err).NotTo(HaveOccurred())
		cfg, err := config.ParseTrainingConfig(cfgData)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.TrainingConfig.ExportConfig.QuantizationMethod).To(Equal("f16"))
		Expect(runner.jobs[0].Paths.ModelDir).To(Equal(modelDir))

		By("rendering the Modelfile for the exported model")
		content, err := os.ReadFile(result.ModelfilePath)
		Expect(err).NotTo(HaveOccurred())
		parsed, err := modelfile.Parse(string(content))
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.From).To(Equal("./unsloth.F16.gguf"))
		Expect(parsed.Template).To(HaveSuffix("<|test_eos|>"))
		Expect(parsed.Parameters["stop"]).To(ContainElement("</test>"))

		By("pushing the model and the Modelfile")
		Expect(hub.repoCreated).To(BeTrue())
		Expect(hub.committed).To(ConsistOf("unsloth.F16.gguf", consts.ModelfileName))
		Expect(hub.commitMessage).To(Equal("Upload test-sql-model fine-tuned from test-model"))

		Expect(out.String()).To(ContainSubstring("Trainer stats: TrainOutput(global_step=60, training_loss=0.5236"))
		Expect(out.String()).To(ContainSubstring("TRAINER_STATS "))
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeSucceeded)).To(BeTrue())
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeModelPushed)).To(BeTrue())
		Expect(hub.ollamaModels).To(BeEmpty())
	})

	It("should stop after the Modelfile when the push is skipped", func(ctx SpecContext) {
		job.Spec.SkipPush = true
		result, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Commit).To(BeNil())
		Expect(result.ModelfilePath).To(BeAnExistingFile())
		Expect(hub.repoCreated).To(BeFalse())
		Expect(hub.committed).To(BeEmpty())
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeSucceeded)).To(BeTrue())
	})

	It("should fall back to the preset EOS token without a tokenizer config", func(ctx SpecContext) {
		hub.tokenizerStatus = http.StatusNotFound
		job.Spec.SkipPush = true
		result, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.EOSToken).To(Equal("</test>"))
	})

	It("should prefer the configured EOS token", func(ctx SpecContext) {
		settings.EOSToken = "<eos>"
		job.Spec.SkipPush = true
		result, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.EOSToken).To(Equal("<eos>"))
	})

	It("should report the dataset stage when the dataset cannot be fetched", func(ctx SpecContext) {
		hub.rowsStatus = http.StatusNotFound
		_, err := p.Run(ctx, job)
		var stageErr *StageError
		Expect(errors.As(err, &stageErr)).To(BeTrue())
		Expect(stageErr.Stage).To(Equal(StageDataset))
		Expect(runner.jobs).To(BeEmpty())
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeDatasetReady)).To(BeFalse())
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeSucceeded)).To(BeFalse())
	})

	It("should report the train stage and skip the Modelfile when the trainer fails", func(ctx SpecContext) {
		runner.err = errors.New("trainer failed: exit status 1")
		_, err := p.Run(ctx, job)
		var stageErr *StageError
		Expect(errors.As(err, &stageErr)).To(BeTrue())
		Expect(stageErr.Stage).To(Equal(StageTrain))
		Expect(err).To(MatchError(ContainSubstring("exit status 1")))
		Expect(filepath.Join(job.Spec.OutputDir, "test-sql-model", consts.ModelfileName)).NotTo(BeAnExistingFile())
		Expect(hub.committed).To(BeEmpty())
	})

	It("should fail when the trainer exported nothing", func(ctx SpecContext) {
		runner.gguf = ""
		_, err := p.Run(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("no .gguf file found")))
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeTrainingSucceeded)).To(BeFalse())
	})

	It("should not report the export of an earlier run", func(ctx SpecContext) {
		modelDir := filepath.Join(job.Spec.OutputDir, "test-sql-model")
		Expect(os.MkdirAll(modelDir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(modelDir, "unsloth.F16.gguf"), []byte("OLD"), 0o644)).To(Succeed())
		runner.gguf = ""
		_, err := p.Run(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("no .gguf file found")))
		Expect(hub.committed).To(BeEmpty())
	})

	It("should reject base models whose preset cannot be tuned", func(ctx SpecContext) {
		settings.BaseModel = "org/test-no-tuning"
		_, err := p.Run(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("does not support tuning")))
		Expect(runner.jobs).To(BeEmpty())
	})

	It("should register the model with ollama when the gate is on", func(ctx SpecContext) {
		Expect(featuregates.ParseAndValidateFeatureGates("OllamaRegistration=true")).To(Succeed())
		DeferCleanup(func() {
			Expect(featuregates.ParseAndValidateFeatureGates("OllamaRegistration=false")).To(Succeed())
		})
		job.Spec.SkipPush = true
		_, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(hub.ollamaModels).To(ConsistOf("test-sql-model"))
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeOllamaRegistered)).To(BeTrue())
	})

	It("should hand kubernetes jobs to the runner without local stages", func(ctx SpecContext) {
		job = test.MockFineTuneJobKubernetes.DeepCopy()
		result, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Stats.GlobalStep).To(Equal(60))
		Expect(runner.jobs).To(HaveLen(1))
		Expect(runner.jobs[0].ConfigPath).To(BeEmpty())
		Expect(runner.jobs[0].PresetName).To(Equal("test-model"))
		Expect(hub.committed).To(BeEmpty())
		Expect(out.String()).To(ContainSubstring("Trainer stats: TrainOutput(global_step=60"))
		Expect(job.IsConditionTrue(v1alpha1.ConditionTypeTrainingSucceeded)).To(BeTrue())
	})
})

var _ = Describe("WriteDataset", func() {
	It("should write only the formatted dataset", func(ctx SpecContext) {
		hub := &fakeHub{
			tokenizerStatus: http.StatusOK,
			rowsStatus:      http.StatusOK,
			rows:            []map[string]interface{}{sqlRow(1), sqlRow(2)},
		}
		server := httptest.NewServer(hub.handler())
		DeferCleanup(server.Close)
		settings := test.MockSettings()
		settings.HFEndpoint = server.URL
		settings.DatasetsServerEndpoint = server.URL

		runner := &fakeRunner{}
		path := filepath.Join(GinkgoT().TempDir(), "train.jsonl")
		eos, err := New(settings, runner).WriteDataset(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(eos).To(Equal("<|test_eos|>"))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(string(data), "\n")).To(Equal(2))
		Expect(runner.jobs).To(BeEmpty())
	})
})

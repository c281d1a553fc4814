package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	apihttp "github.com/gaborage/apicall/http"
)

// DefaultConcurrency is the number of batch calls run at once
const DefaultConcurrency = 4

// BatchOptions holds options for the batch command
type BatchOptions struct {
	Concurrency int
}

// BatchFile is the YAML document read by the batch command
type BatchFile struct {
	Concurrency int         `yaml:"concurrency"`
	Calls       []BatchCall `yaml:"calls"`
}

// BatchCall is one call of a batch. Unset retry fields keep the configured
// client defaults.
type BatchCall struct {
	Name          string            `yaml:"name"`
	Method        string            `yaml:"method"`
	URL           string            `yaml:"url"`
	Query         map[string]any    `yaml:"query"`
	Headers       map[string]string `yaml:"headers"`
	Body          any               `yaml:"body"`
	Timeout       time.Duration     `yaml:"timeout"`
	Retries       *int              `yaml:"retries"`
	RetryAfter    *time.Duration    `yaml:"retryafter"`
	MinRetryAfter *time.Duration    `yaml:"minretryafter"`
	MaxRetryAfter *time.Duration    `yaml:"maxretryafter"`
	DoNotRetryOn  []string          `yaml:"donotretryon"`
	JSON          bool              `yaml:"json"`
}

// BatchResult is the outcome of one batch call
type BatchResult struct {
	Name     string `yaml:"name"`
	OK       bool   `yaml:"ok"`
	Status   int    `yaml:"status,omitempty"`
	Attempts int    `yaml:"attempts,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Body     any    `yaml:"body,omitempty"`
}

// NewBatchCommand creates the batch command
func NewBatchCommand(root *RootOptions) *cobra.Command {
	opts := &BatchOptions{}

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the calls listed in a YAML file concurrently",
		Long: `Runs every call of FILE, each with its own retry sequence, and prints a
YAML report in file order. The command fails when any call failed.`,
		Example: `  # calls.yaml
  concurrency: 2
  calls:
    - name: users
      url: /users
      json: true
    - name: create
      method: POST
      url: /users
      body: {name: x}
      retries: 3
      minretryafter: 200ms
      donotretryon: ["4xx"]

  apicall batch calls.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runBatch(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "n", 0, fmt.Sprintf("Calls run at once (default: file value or %d)", DefaultConcurrency))

	return cmd
}

func runBatch(cmd *cobra.Command, root *RootOptions, opts *BatchOptions, path string) error {
	file, err := readBatchFile(path)
	if err != nil {
		return err
	}

	concurrency := file.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = opts.Concurrency
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	s, err := newSession(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	s.log.Info().
		Int("calls", len(file.Calls)).
		Int("concurrency", concurrency).
		Msg("Running batch")

	results := runCalls(cmd.Context(), s, file.Calls, concurrency)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, len(results))
	}
	return nil
}

func readBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var file BatchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(file.Calls) == 0 {
		return nil, fmt.Errorf("batch file %s lists no calls", path)
	}
	for i := range file.Calls {
		if file.Calls[i].URL == "" {
			return nil, fmt.Errorf("batch call %d: url is required", i+1)
		}
		if file.Calls[i].Name == "" {
			file.Calls[i].Name = fmt.Sprintf("call-%d", i+1)
		}
	}
	return &file, nil
}

// runCalls runs calls with at most concurrency in flight. A failed call
// never stops the others.
func runCalls(ctx context.Context, s *session, calls []BatchCall, concurrency int) []BatchResult {
	results := make([]BatchResult, len(calls))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range calls {
		g.Go(func() error {
			results[i] = runBatchCall(ctx, s, &calls[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runBatchCall(ctx context.Context, s *session, call *BatchCall) BatchResult {
	spec := batchSpec(s, call)
	result := BatchResult{Name: call.Name}

	res, err := s.client.Execute(ctx, spec)
	if err != nil {
		result.Error = err.Error()
		var callErr *apihttp.CallError
		if errors.As(err, &callErr) {
			result.Status = callErr.Status
			result.Kind = string(callErr.Kind)
			result.Attempts = callErr.Attempts
			result.Body = callErr.Data
		}
		return result
	}

	r := res.Response
	result.OK = true
	result.Status = r.StatusCode
	result.Attempts = r.Stats.Attempts
	result.Body = reportBody(r.Body, call.JSON)
	return result
}

func batchSpec(s *session, call *BatchCall) *apihttp.CallSpec {
	spec := apihttp.SpecFromConfig(&s.cfg.Client)
	spec.Method = call.Method
	spec.Path = call.URL
	spec.Query = call.Query
	spec.Headers = call.Headers
	spec.Body = call.Body
	spec.Timeout = call.Timeout
	spec.JSON = call.JSON
	spec.GetFullResponse = true

	if call.Retries != nil {
		spec.Retries = *call.Retries
	}
	if call.RetryAfter != nil {
		spec.RetryAfter = *call.RetryAfter
	}
	if call.MinRetryAfter != nil {
		spec.MinRetryAfter = *call.MinRetryAfter
		if call.RetryAfter == nil {
			spec.RetryAfter = 0
		}
	}
	if call.MaxRetryAfter != nil {
		spec.MaxRetryAfter = *call.MaxRetryAfter
	}
	if call.DoNotRetryOn != nil {
		spec.DoNotRetryOn = call.DoNotRetryOn
	}
	return spec
}

// reportBody decodes raw as JSON when asked to, falling back to text.
func reportBody(raw []byte, asJSON bool) any {
	if len(raw) == 0 {
		return nil
	}
	if asJSON {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

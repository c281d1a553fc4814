package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/gaborage/apicall/http"
)

// CallOptions holds options for the call command. Retry flags left unset
// keep the configured client defaults.
type CallOptions struct {
	Method        string
	Headers       []string
	Query         []string
	Data          string
	Retries       int
	RetryAfter    time.Duration
	MinRetryAfter time.Duration
	MaxRetryAfter time.Duration
	Timeout       time.Duration
	DoNotRetryOn  []string
	JSON          bool
	Full          bool
	AuthType      string
	Token         string
	User          string
	Password      string
}

// NewCallCommand creates the call command
func NewCallCommand(root *RootOptions) *cobra.Command {
	opts := &CallOptions{}

	cmd := &cobra.Command{
		Use:   "call [flags] URL",
		Short: "Make a single HTTP call with retries",
		Long: `Makes one logical HTTP call. Failed attempts are retried until one
succeeds, the status is listed in --do-not-retry-on or the retry budget is
spent. URL is absolute or relative to the configured client.baseurl.`,
		Example: `  # GET with the configured retry defaults
  apicall call https://api.example.com/users

  # POST JSON, retry with exponential backoff between 500ms and 5s
  apicall call -X POST --json -d '{"name":"x"}' --min-retry-after 500ms --max-retry-after 5s /users

  # Never retry client errors
  apicall call --retries 3 --do-not-retry-on 4xx /users/42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runCall(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Method, "method", "X", "GET", "HTTP method")
	flags.StringArrayVarP(&opts.Headers, "header", "H", nil, `Request header as "Key: Value" (repeatable)`)
	flags.StringArrayVarP(&opts.Query, "query", "q", nil, `Query parameter as "key=value" (repeatable)`)
	flags.StringVarP(&opts.Data, "data", "d", "", "Request body")
	flags.IntVarP(&opts.Retries, "retries", "r", 0, "Retry budget (default: client.retries)")
	flags.DurationVar(&opts.RetryAfter, "retry-after", 0, "Fixed delay between attempts (default: client.retryafter)")
	flags.DurationVar(&opts.MinRetryAfter, "min-retry-after", 0, "First delay of exponential backoff")
	flags.DurationVar(&opts.MaxRetryAfter, "max-retry-after", 0, "Upper bound of exponential backoff")
	flags.DurationVarP(&opts.Timeout, "timeout", "t", 0, "Per-attempt timeout (default: client.timeout)")
	flags.StringSliceVar(&opts.DoNotRetryOn, "do-not-retry-on", nil, "Status codes or classes that are not retried (401,5xx,40x)")
	flags.BoolVar(&opts.JSON, "json", false, "Send and decode JSON")
	flags.BoolVar(&opts.Full, "full", false, "Print status, headers and call statistics")
	flags.StringVar(&opts.AuthType, "auth-type", "Bearer", "Authorization scheme used with --token")
	flags.StringVar(&opts.Token, "token", "", "Authorization token")
	flags.StringVarP(&opts.User, "user", "u", "", "Basic auth user")
	flags.StringVar(&opts.Password, "password", "", "Basic auth password")

	return cmd
}

func runCall(cmd *cobra.Command, root *RootOptions, opts *CallOptions, target string) error {
	s, err := newSession(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	spec, err := buildCallSpec(cmd, s, opts, target)
	if err != nil {
		return err
	}

	res, err := s.client.Execute(cmd.Context(), spec)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), res)
}

func buildCallSpec(cmd *cobra.Command, s *session, opts *CallOptions, target string) (*apihttp.CallSpec, error) {
	spec := apihttp.SpecFromConfig(&s.cfg.Client)
	spec.Method = opts.Method
	spec.Path = target
	spec.JSON = opts.JSON
	spec.GetFullResponse = opts.Full

	flags := cmd.Flags()
	if flags.Changed("retries") {
		spec.Retries = opts.Retries
	}
	if flags.Changed("retry-after") {
		spec.RetryAfter = opts.RetryAfter
	}
	if flags.Changed("min-retry-after") {
		spec.MinRetryAfter = opts.MinRetryAfter
		if !flags.Changed("retry-after") {
			// backoff flags replace a configured fixed delay
			spec.RetryAfter = 0
		}
	}
	if flags.Changed("max-retry-after") {
		spec.MaxRetryAfter = opts.MaxRetryAfter
	}
	if flags.Changed("timeout") {
		spec.Timeout = opts.Timeout
	}
	if flags.Changed("do-not-retry-on") {
		spec.DoNotRetryOn = opts.DoNotRetryOn
	}

	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		return nil, err
	}
	spec.Headers = headers

	query, err := parseQuery(opts.Query)
	if err != nil {
		return nil, err
	}
	spec.Query = query

	if opts.Data != "" {
		spec.Body = requestBody(opts.Data, opts.JSON)
	}

	switch {
	case opts.Token != "":
		spec.Auth = &apihttp.Auth{AuthorizationType: opts.AuthType, Token: opts.Token}
	case opts.User != "":
		spec.Auth = &apihttp.Auth{User: opts.User, Password: opts.Password}
	}

	return spec, nil
}

// requestBody sends valid JSON with a JSON content type when asJSON is set
// and data verbatim otherwise.
func requestBody(data string, asJSON bool) any {
	if asJSON && json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	return data
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Key: Value\"", h)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

func parseQuery(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	query := make(map[string]any, len(raw))
	for _, q := range raw {
		key, value, ok := strings.Cut(q, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q: expected \"key=value\"", q)
		}
		if existing, found := query[key]; found {
			switch v := existing.(type) {
			case []string:
				query[key] = append(v, value)
			case string:
				query[key] = []string{v, value}
			}
			continue
		}
		query[key] = value
	}
	return query, nil
}

package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftpulse/contest-payments/internal/tools/common"
	"github.com/draftpulse/contest-payments/internal/tools/ui"
)

type options struct {
	grafanaURL    string
	datasourceUID string
	metricsURL    string
	window        time.Duration
	ci            bool
	timeout       time.Duration
}

// NewRootCommand builds the observability smoke-check CLI. It verifies that
// the service exposes its metrics and that request exemplars are reaching
// the Grafana-fronted Prometheus datasource.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "obscheck",
		Short: "Verify the payments observability pipeline end to end",
	}
	root.PersistentFlags().StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	root.PersistentFlags().StringVar(&opts.datasourceUID, "datasource-uid", "prometheus", "Prometheus datasource UID in Grafana")
	root.PersistentFlags().StringVar(&opts.metricsURL, "metrics-url", "http://localhost:8080/metrics", "service metrics endpoint")
	root.PersistentFlags().DurationVar(&opts.window, "window", 5*time.Minute, "how far back to look for a trace exemplar")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "emit a single JSON result instead of the terminal UI")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run all observability checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "obscheck run", func(ctx context.Context) ([]string, error) {
				var details []string
				if err := checkMetricsEndpoint(ctx, opts); err != nil {
					return nil, err
				}
				details = append(details, "metrics endpoint reachable")
				traceID, err := fetchTraceIDFromExemplar(ctx, *opts, time.Now().Add(-opts.window))
				if err != nil {
					return details, err
				}
				details = append(details, "recent trace exemplar "+traceID)
				return details, nil
			})
			return err
		},
	})

	return root
}

func run(opts *options, title string, action func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx := context.Background()
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		details, err := action(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		return details, err
	}
	return ui.Run(title, opts.timeout, action)
}

func checkMetricsEndpoint(ctx context.Context, opts *options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.metricsURL, nil)
	if err != nil {
		return fmt.Errorf("build metrics request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func grafanaGET(ctx context.Context, opts options, path string) ([]byte, error) {
	if _, err := url.Parse(opts.grafanaURL); err != nil {
		return nil, fmt.Errorf("parse grafana url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.grafanaURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("grafana returned %d for %s", resp.StatusCode, path)
	}
	return body, nil
}

// fetchTraceIDFromExemplar asks the Prometheus datasource for request
// duration exemplars and returns the trace id of the newest one at or after
// since.
func fetchTraceIDFromExemplar(ctx context.Context, opts options, since time.Time) (string, error) {
	query := url.QueryEscape(`payments_http_request_duration_seconds_bucket`)
	path := fmt.Sprintf("/api/datasources/proxy/uid/%s/api/v1/query_exemplars?query=%s&start=%d&end=%d",
		opts.datasourceUID, query, since.Unix(), time.Now().Unix())
	body, err := grafanaGET(ctx, opts, path)
	if err != nil {
		return "", err
	}

	var payload struct {
		Data []struct {
			Exemplars []struct {
				Timestamp int64             `json:"timestamp"`
				Labels    map[string]string `json:"labels"`
			} `json:"exemplars"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode exemplar response: %w", err)
	}

	var best string
	var bestTS int64
	for _, series := range payload.Data {
		for _, ex := range series.Exemplars {
			if ex.Timestamp < since.Unix() || ex.Timestamp < bestTS {
				continue
			}
			if id := ex.Labels["trace_id"]; id != "" {
				best = id
				bestTS = ex.Timestamp
			}
		}
	}
	if best == "" {
		return "", fmt.Errorf("no trace exemplar in the last %s", opts.window)
	}
	return best, nil
}

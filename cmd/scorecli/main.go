// Command scorecli ranks PhD opportunities against an applicant profile from
// local YAML fixtures. Without LLM_API_KEY set it uses the offline stub
// generator, which makes it handy for trying out the pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/scholarsift/scholarsift/internal/adapter/ai/real"
	"github.com/scholarsift/scholarsift/internal/adapter/ai/stub"
	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/config"
	"github.com/scholarsift/scholarsift/internal/domain"
	"github.com/scholarsift/scholarsift/internal/service/throttle"
	"github.com/scholarsift/scholarsift/internal/usecase"
)

type fixtures struct {
	Profile       domain.Profile       `yaml:"profile"`
	Opportunities []domain.Opportunity `yaml:"opportunities"`
}

func main() {
	var (
		path    = flag.String("f", "fixtures.yaml", "YAML file with a profile and opportunities")
		top     = flag.Int("top", 0, "print only the N best matches (0 prints all)")
		asJSON  = flag.Bool("json", false, "emit JSON instead of a table")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.AppEnv = "dev"
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	fx, err := loadFixtures(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(fx.Opportunities) == 0 {
		fmt.Fprintln(os.Stderr, "no opportunities in", *path)
		os.Exit(1)
	}

	var gen domain.TextGenerator
	if cfg.LLMAPIKey == "" {
		gen = stub.New()
	} else {
		gen = real.New(cfg)
	}

	throttler := throttle.New(throttle.Options{
		MaxConcurrent: cfg.ThrottleMaxConcurrent,
		QueueTimeout:  cfg.ThrottleQueueTimeout,
		Pacing:        cfg.ThrottlePacing,
		MaxRetries:    cfg.ThrottleMaxRetries,
		RetryBase:     cfg.ThrottleRetryBase,
		RetryCap:      cfg.ThrottleRetryCap,
	})
	svc := usecase.NewScoreService(gen, throttler, nil, cfg.LLMMaxTokens)

	results := svc.ScoreBatch(context.Background(), fx.Profile, fx.Opportunities)
	domain.SortByScore(results)
	if *top > 0 && *top < len(results) {
		results = results[:*top]
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	printTable(results)
}

func loadFixtures(path string) (fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var fx fixtures
	if err := yaml.Unmarshal(b, &fx); err != nil {
		return fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return fx, nil
}

func printTable(results []domain.ScoredOpportunity) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tTITLE\tINSTITUTION\tNOTE")
	for i, r := range results {
		note := ""
		if r.Result.Degraded {
			note = "degraded: " + string(r.Result.FailureReason)
		}
		fmt.Fprintf(w, "%d\t%.1f\t%s\t%s\t%s\n",
			i+1, r.Result.OverallScore, r.Opportunity.Title, r.Opportunity.Institution, note)
	}
	_ = w.Flush()
}

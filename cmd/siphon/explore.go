package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siphon/internal/bindings"
	"siphon/internal/config"
	"siphon/internal/explore"
	"siphon/internal/llm"
)

var (
	exploreGoal     string
	exploreMaxSteps int
)

var exploreCmd = &cobra.Command{
	Use:   "explore [url]",
	Short: "Explore a site to learn how it behaves",
	Long: `Opens the URL and runs a bounded exploration loop: the model picks
actions, each action's effect is classified, and recurring behaviors are
consolidated into patterns. The run ends with a report of the pages
seen, confirmed behavior patterns, and identified key elements.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

func init() {
	exploreCmd.Flags().StringVar(&exploreGoal, "goal", "", "what to find out (defaults to the configured goal)")
	exploreCmd.Flags().IntVar(&exploreMaxSteps, "max-steps", 0, "override the step budget")
}

func runExplore(cmd *cobra.Command, args []string) error {
	startURL := args[0]

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("exploration needs a model; set GEMINI_API_KEY or OPENAI_API_KEY")
	}
	client, err := llm.NewClient(ctx, &llm.ProviderConfig{
		Provider: llm.Provider(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  config.Duration(cfg.LLM.Timeout, 60*time.Second),
	})
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	drv, closeDrv, err := openDriver(ctx)
	if err != nil {
		return err
	}
	defer closeDrv()

	ec := explore.DefaultConfig()
	if cfg.Explore.MaxSteps > 0 {
		ec.MaxSteps = cfg.Explore.MaxSteps
	}
	if exploreMaxSteps > 0 {
		ec.MaxSteps = exploreMaxSteps
	}
	goal := exploreGoal
	if goal == "" {
		goal = cfg.Explore.Goal
	}

	// SIGINT cancels ctx; the loop also polls this channel so a stop
	// lands between steps rather than mid-action.
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	logger.Info("exploring", zap.String("url", startURL), zap.String("goal", goal))
	o := explore.NewOrchestrator(drv, client, ec, logger)
	res := o.Explore(ctx, startURL, goal, stop)

	if res.Success {
		seedBindings(res, startURL)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !res.Success {
		return fmt.Errorf("exploration failed: %s", res.Error)
	}
	return nil
}

// seedBindings stores what the exploration learned as page bindings, so
// the next recipe run against this URL skips the discovery round trip.
func seedBindings(res *explore.Result, startURL string) {
	b := explore.SeedBindings(res, startURL)
	if b == nil {
		logger.Info("exploration learned no bindings to seed")
		return
	}
	store, err := bindings.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Warn("bindings store unavailable, seed not persisted", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.Save(b); err != nil {
		logger.Warn("seeded bindings not persisted", zap.Error(err))
		return
	}
	logger.Info("bindings seeded from exploration",
		zap.String("urlPattern", b.URLPattern), zap.String("listItem", b.ListItem))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"siphon/internal/bindings"
	"siphon/internal/config"
	"siphon/internal/driver"
	"siphon/internal/llm"
	"siphon/internal/navigator"
	"siphon/internal/recipe"
	"siphon/internal/runner"
)

var (
	runRecipePath string
	runRecipeDir  string
	runWatch      bool
	runHTMLPath   string
	runHTMLURL    string
	runOutPath    string
	runMaxItems   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute extraction recipes",
	Long: `Runs one recipe (--recipe) or every recipe in a directory
(--recipes). Bindings come from the store when fresh, otherwise the model
discovers them against the live page.

With --html the recipe runs offline against a saved page instead of a
browser; --url names the location that page was saved from.`,
	RunE: runRecipes,
}

func init() {
	runCmd.Flags().StringVar(&runRecipePath, "recipe", "", "recipe file to run")
	runCmd.Flags().StringVar(&runRecipeDir, "recipes", "", "directory of recipes to run")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run the recipe whenever its file changes")
	runCmd.Flags().StringVar(&runHTMLPath, "html", "", "run offline against this saved HTML file")
	runCmd.Flags().StringVar(&runHTMLURL, "url", "", "URL the saved HTML was captured from")
	runCmd.Flags().StringVar(&runOutPath, "out", "", "write the run report to this file instead of stdout")
	runCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "override the item budget")
}

func runRecipes(cmd *cobra.Command, args []string) error {
	if runRecipePath == "" && runRecipeDir == "" {
		return fmt.Errorf("one of --recipe or --recipes is required")
	}
	if runWatch && runRecipePath == "" {
		return fmt.Errorf("--watch needs --recipe")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	recipes, err := loadRecipes()
	if err != nil {
		return err
	}

	store, err := bindings.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open bindings store: %w", err)
	}
	defer store.Close()

	nav := buildNavigator(ctx)

	if runWatch {
		return watchAndRun(ctx, store, nav, recipes[0])
	}

	// Independent recipes run concurrently, each over its own driver
	// session.
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*runner.Result, len(recipes))
	for i, rec := range recipes {
		g.Go(func() error {
			res, err := runOne(gctx, store, nav, rec)
			if err != nil {
				return err
			}
			results[i] = res
			if !res.Success {
				return fmt.Errorf("recipe %s failed: %s", rec.Name, res.Error)
			}
			return nil
		})
	}
	runErr := g.Wait()

	for i, res := range results {
		if res != nil {
			reportResult(recipes[i], res)
		}
	}
	return runErr
}

func loadRecipes() ([]*recipe.Recipe, error) {
	if runRecipePath != "" {
		r, err := recipe.LoadFile(runRecipePath)
		if err != nil {
			return nil, err
		}
		return []*recipe.Recipe{r}, nil
	}
	recipes, err := recipe.LoadDir(runRecipeDir)
	if err != nil {
		return nil, err
	}
	if len(recipes) == 0 {
		return nil, fmt.Errorf("no recipes in %s", runRecipeDir)
	}
	return recipes, nil
}

// buildNavigator wires the model when credentials exist. Without them,
// runs proceed on stored bindings only.
func buildNavigator(ctx context.Context) *navigator.Navigator {
	if cfg.LLM.APIKey == "" {
		logger.Warn("no model API key; discovery and self-healing disabled")
		return nil
	}
	client, err := llm.NewClient(ctx, &llm.ProviderConfig{
		Provider: llm.Provider(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  config.Duration(cfg.LLM.Timeout, 60*time.Second),
	})
	if err != nil {
		logger.Warn("model client unavailable", zap.Error(err))
		return nil
	}
	return navigator.New(client, logger)
}

func executorConfig() recipe.ExecutorConfig {
	ec := recipe.DefaultExecutorConfig()
	if cfg.Run.MaxItems > 0 {
		ec.MaxItems = cfg.Run.MaxItems
	}
	if runMaxItems > 0 {
		ec.MaxItems = runMaxItems
	}
	if cfg.Run.MaxScrollCycles > 0 {
		ec.MaxScrollCycles = cfg.Run.MaxScrollCycles
	}
	ec.ConditionTimeout = config.Duration(cfg.Run.ConditionTimeout, ec.ConditionTimeout)
	ec.LoadTimeout = config.Duration(cfg.Run.LoadTimeout, ec.LoadTimeout)
	return ec
}

func urlPolicy() driver.URLPolicy {
	return driver.URLPolicy{
		AllowedHosts: cfg.Browser.AllowedHosts,
		DeniedHosts:  cfg.Browser.DeniedHosts,
	}
}

// openDriver returns the configured driver: a static one for offline
// runs, a live browser otherwise. The returned closer tears the session
// down.
func openDriver(ctx context.Context) (driver.Driver, func(), error) {
	if runHTMLPath != "" {
		if runHTMLURL == "" {
			return nil, nil, fmt.Errorf("--html needs --url")
		}
		data, err := os.ReadFile(runHTMLPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", runHTMLPath, err)
		}
		drv := driver.NewStatic(map[string]string{runHTMLURL: string(data)}, urlPolicy())
		return drv, func() {}, nil
	}

	rc := driver.DefaultRodConfig()
	rc.Headless = cfg.Browser.Headless
	if cfg.Browser.ViewportWidth > 0 {
		rc.ViewportWidth = cfg.Browser.ViewportWidth
	}
	if cfg.Browser.ViewportHeight > 0 {
		rc.ViewportHeight = cfg.Browser.ViewportHeight
	}
	rc.NavigationTimeoutMs = int(config.Duration(cfg.Browser.NavigationTimeout, 30*time.Second).Milliseconds())
	rc.AllowedHosts = cfg.Browser.AllowedHosts
	rc.DeniedHosts = cfg.Browser.DeniedHosts

	rod := driver.NewRod(rc, logger)
	if err := rod.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return rod, func() { _ = rod.Close() }, nil
}

func runOne(ctx context.Context, store bindings.Store, nav *navigator.Navigator, rec *recipe.Recipe) (*runner.Result, error) {
	drv, closeDrv, err := openDriver(ctx)
	if err != nil {
		return nil, err
	}
	defer closeDrv()

	r := newRunner(store, nav)
	logger.Info("running recipe", zap.String("name", rec.Name), zap.String("urlPattern", rec.URLPattern))
	return r.Run(ctx, drv, rec), nil
}

// newRunner exists so watch mode and one-shot mode build identical
// runners.
func newRunner(store bindings.Store, nav *navigator.Navigator) *runner.Runner {
	if nav == nil {
		return runner.New(store, nil, executorConfig(), logger)
	}
	return runner.New(store, nav, executorConfig(), logger)
}

func watchAndRun(ctx context.Context, store bindings.Store, nav *navigator.Navigator, rec *recipe.Recipe) error {
	stop := make(chan struct{})
	defer close(stop)

	updates, err := recipe.Watch(runRecipePath, stop, logger)
	if err != nil {
		return err
	}

	current := rec
	for {
		res, err := runOne(ctx, store, nav, current)
		if err != nil {
			return err
		}
		reportResult(current, res)

		logger.Info("watching for recipe changes", zap.String("path", runRecipePath))
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-updates:
			if !ok {
				return nil
			}
			current = next
			logger.Info("recipe changed, re-running", zap.String("name", current.Name))
		}
	}
}

// runReport is the JSON document a run emits.
type runReport struct {
	Recipe     string        `json:"recipe"`
	Success    bool          `json:"success"`
	Cycles     int           `json:"cycles"`
	Discovered bool          `json:"discovered"`
	Items      []recipe.Item `json:"items"`
	Stats      recipe.Stats  `json:"stats"`
	Error      string        `json:"error,omitempty"`
}

func reportResult(rec *recipe.Recipe, res *runner.Result) {
	report := runReport{
		Recipe:     rec.Name,
		Success:    res.Success,
		Cycles:     res.Cycles,
		Discovered: res.Discovered,
		Items:      res.Items,
		Stats:      res.Stats,
		Error:      res.Error,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("cannot render report", zap.Error(err))
		return
	}
	if runOutPath != "" {
		if err := os.WriteFile(runOutPath, data, 0644); err != nil {
			logger.Error("cannot write report", zap.String("path", runOutPath), zap.Error(err))
		}
		return
	}
	fmt.Println(string(data))
}

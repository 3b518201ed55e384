package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/analysis"
	"github.com/TobiSchelling/vortex/internal/collect"
	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/fetch"
	"github.com/TobiSchelling/vortex/internal/index"
	"github.com/TobiSchelling/vortex/internal/llm"
	"github.com/TobiSchelling/vortex/internal/logging"
	"github.com/TobiSchelling/vortex/internal/metrics"
	"github.com/TobiSchelling/vortex/internal/pipeline"
	"github.com/TobiSchelling/vortex/internal/scheduler"
	"github.com/TobiSchelling/vortex/internal/server"
	"github.com/TobiSchelling/vortex/internal/vectorstore"
	"github.com/TobiSchelling/vortex/internal/verify"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vortex",
	Short:   "Fake-news detection and claim verification",
	Long:    "Vortex collects Brazilian news, detects disinformation markers and verifies claims against indexed articles.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return setupLogging("info", "console")
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		metrics.Init()
		return setupLogging(cfg.Logging.Level, cfg.Logging.Format)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func setupLogging(level, format string) error {
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, format)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vortex", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/vortex/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set provider API keys (OPENAI_API_KEY, GEMINI_API_KEY, ...) in the environment.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Articles:")
		fmt.Printf("  Total collected: %d\n", stats.TotalArticles)
		fmt.Printf("  Indexed: %d\n", stats.IndexedArticles)
		fmt.Printf("  Analyzed: %d\n", stats.AnalyzedArticles)
		fmt.Printf("  Flagged as fake: %d\n", stats.FakeArticles)
		fmt.Println("\nSources:")
		fmt.Printf("  Sources: %d\n", stats.Sources)
		fmt.Printf("  Active feeds: %d\n", stats.ActiveFeeds)
		fmt.Printf("\nVerifications: %d\n", stats.Verifications)
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured LLM providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := buildManager()
		if err != nil {
			return err
		}

		statuses := manager.Status()
		if len(statuses) == 0 {
			fmt.Println("No providers enabled. Set providers.enabled or VORTEX_ENABLED_PROVIDERS.")
			return nil
		}

		fmt.Printf("Target embedding dimensions: %d\n\n", manager.TargetDimensions())
		for _, st := range statuses {
			icon := " "
			if st.Available {
				icon = "*"
			}
			caps := make([]string, 0, len(st.Capabilities))
			for _, c := range st.Capabilities {
				caps = append(caps, fmt.Sprint(c))
			}
			fmt.Printf("  [%d] %s %-10s %-20s %s (%s)\n",
				st.Priority, icon, st.Name, st.DisplayName, st.Status, strings.Join(caps, ", "))
		}

		ctx, stop := signalContext()
		defer stop()
		reach := manager.Reachability(ctx)
		if len(reach) > 0 {
			fmt.Println("\nServers:")
			names := make([]string, 0, len(reach))
			for name := range reach {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := "unreachable"
				if reach[name] {
					state = "reachable"
				}
				fmt.Printf("  %-10s %s\n", name, state)
			}
		}
		return nil
	},
}

// --- collect command ---

var collectDaysBack int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect articles from configured feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Println("Collecting articles from sources...")
		collector := collect.NewCollector(cfg, db, collectDaysBack)
		result, err := collector.Collect(ctx)
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Feeds: %d (%d failed)\n", result.Feeds, result.FeedErrors)
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New articles: %d\n", result.NewArticles)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)

		if len(result.Sources) > 0 {
			fmt.Println("\nArticles by source:")
			// Sort sources by count descending
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDaysBack, "days-back", 7, "Ignore feed items older than this many days (0 keeps all)")
}

// --- fetch command ---

var fetchLimit int

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download full text for articles with missing or short content",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		res, err := fetch.NewContentFetcher(db, 0).FetchMissingContent(ctx, fetchLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %d, failed %d, skipped %d\n", res.Fetched, res.Failed, res.Skipped)
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 100, "Maximum articles to fetch")
}

// --- analyze command ---

var analyzeLimit int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run fake-news detection over unanalyzed articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		manager, err := buildManager()
		if err != nil {
			return err
		}
		if !manager.HasText() {
			return fmt.Errorf("no text generation provider configured")
		}

		ctx, stop := signalContext()
		defer stop()

		res, err := newAnalyzer(db, manager).RunBatchAnalysis(ctx, analyzeLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d articles: %d flagged as fake, %d errors\n", res.Processed, res.Fake, res.Errors)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", analysis.DefaultLimit, "Maximum articles to analyze (max 50)")
}

// --- index command ---

var (
	indexLimit int
	reindex    bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed articles for semantic search",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		manager, err := buildManager()
		if err != nil {
			return err
		}
		if !manager.HasEmbedding() {
			return fmt.Errorf("no embedding provider configured")
		}

		ctx, stop := signalContext()
		defer stop()

		if reindex {
			n, err := db.ClearEmbeddings()
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d embeddings\n", n)
		}

		indexer := newIndexer(db, manager)
		store, err := openVectorStore(ctx, manager.TargetDimensions())
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			indexer.WithMirror(store)
		}

		res, err := indexer.IndexDocuments(ctx, indexLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d of %d pending (%d failed, %d skipped) in %s\n",
			res.Indexed, res.Pending, res.Failed, res.Skipped, res.Duration.Round(1e9))
		return nil
	},
}

func init() {
	indexCmd.Flags().IntVar(&indexLimit, "limit", 0, "Maximum articles to index (0 for all)")
	indexCmd.Flags().BoolVar(&reindex, "reindex", false, "Clear existing embeddings first")
}

// --- verify and history commands ---

var userID string

var verifyCmd = &cobra.Command{
	Use:   "verify [claim]",
	Short: "Verify a claim against the indexed news",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		manager, err := buildManager()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		verifier, closeStore, err := newVerifier(ctx, db, manager)
		if err != nil {
			return err
		}
		defer closeStore()

		v := verifier.VerifyClaim(ctx, strings.Join(args, " "), userID)
		fmt.Printf("%s (confiança: %d%%)\n\n%s\n", v.Veredito, v.Confianca, v.Analise)
		if len(v.Evidencias) > 0 {
			fmt.Println("\nEvidências:")
			for _, e := range v.Evidencias {
				fmt.Printf("  - %s\n", e)
			}
		}
		return nil
	},
}

var (
	historyLimit   int
	historyVerdict string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past verifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		f := database.VerificationFilter{UserID: userID, Limit: historyLimit}
		if historyVerdict != "" {
			label, ok := verify.ParseLabel(historyVerdict)
			if !ok && label != verify.LabelError {
				return fmt.Errorf("unknown verdict %q", historyVerdict)
			}
			f.Verdict = label
		}

		items, err := db.ListVerifications(f)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No verifications yet. Try: vortex verify \"...\"")
			return nil
		}
		for _, v := range items {
			created := ""
			if v.CreatedAt != nil {
				created = *v.CreatedAt
			}
			fmt.Printf("  [%d] %s [%s] %d%%  %s\n", v.ID, created, v.Verdict, v.Confidence, truncate(v.Claim, 60))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&userID, "user", "u", verify.DefaultUserID, "User ID for history")
	historyCmd.Flags().StringVarP(&userID, "user", "u", verify.DefaultUserID, "User ID for history")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")
	historyCmd.Flags().StringVar(&historyVerdict, "verdict", "", "Only show this verdict (e.g. FALSO)")
	similarCmd.Flags().IntVar(&similarLimit, "limit", 5, "Number of related articles to show")
}

// --- similar command ---

var similarLimit int

var similarCmd = &cobra.Command{
	Use:   "similar [article-id]",
	Short: "List indexed articles closest to a stored article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid article id %q", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		hits, err := db.SimilarArticles(ctx, id, similarLimit)
		if err != nil {
			return err
		}
		if hits == nil {
			fmt.Printf("Article %d is not indexed. Run: vortex index\n", id)
			return nil
		}
		for _, h := range hits {
			source := ""
			if h.SourceName != nil {
				source = *h.SourceName
			}
			fmt.Printf("  [%d] %.3f %-12s %s\n", h.ID, h.Similarity, source, truncate(h.Title, 70))
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun      bool
	runDaysBack int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> fetch -> analyze -> index",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		manager, err := buildManager()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		pipe, closeStore, err := newPipeline(ctx, db, manager, runDaysBack)
		if err != nil {
			return err
		}
		defer closeStore()

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun()
		} else {
			result = pipe.Run(ctx)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'vortex serve' to start the API.")
		}
		if result.Failed() {
			return fmt.Errorf("pipeline finished with errors")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&runDaysBack, "days-back", 7, "Ignore feed items older than this many days")
}

// --- serve command ---

var (
	servePort   int
	noScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		manager, err := buildManager()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		verifier, closeStore, err := newVerifier(ctx, db, manager)
		if err != nil {
			return err
		}
		defer closeStore()

		monitor := scheduler.NewSourceMonitor(cfg.Sources.Monitored, db)
		srv := server.New(db, verifier, newAnalyzer(db, manager), server.Options{
			APIKey:         cfg.ServerAPIKey(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			Version:        version,
		}).WithProviders(manager).WithSources(monitor)

		if cfg.Scheduler.Enabled && !noScheduler {
			pipe, closePipe, err := newPipeline(ctx, db, manager, 7)
			if err != nil {
				return err
			}
			defer closePipe()

			sched := scheduler.New()
			sched.Add(scheduler.Job{
				Name:        "pipeline",
				Description: "Collect, fetch, analyze and index news",
				Interval:    cfg.Scheduler.CollectInterval,
				RunAtStart:  true,
				Run: func(ctx context.Context) error {
					if res := pipe.Run(ctx); res.Failed() {
						return fmt.Errorf("pipeline finished with errors")
					}
					return nil
				},
			})
			sched.Add(scheduler.Job{
				Name:        "source_check",
				Description: "Check news site availability",
				Interval:    cfg.Scheduler.SourceCheckInterval,
				RunAtStart:  true,
				Run: func(ctx context.Context) error {
					_, err := monitor.Check(ctx)
					return err
				},
			})
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
			srv.WithScheduler(sched)
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		fmt.Printf("Starting server at http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without background jobs")
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage news sources and feeds",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources and their feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := collect.NewCollector(cfg, db, 0).SeedFeeds(); err != nil {
			return err
		}

		sources, err := db.ListSources(false)
		if err != nil {
			return err
		}
		feeds, err := db.ListFeeds()
		if err != nil {
			return err
		}
		bySource := make(map[int64][]database.RSSFeed)
		for _, f := range feeds {
			bySource[f.SourceID] = append(bySource[f.SourceID], f)
		}

		for _, s := range sources {
			icon := " "
			if s.IsActive {
				icon = "*"
			}
			fmt.Printf("  %s %-16s %-24s %s\n", icon, s.Name, s.DisplayName, s.Status)
			for _, f := range bySource[s.ID] {
				fmt.Printf("        %s (fetched %d, errors %d)\n", f.URL, f.FetchCount, f.ErrorCount)
			}
		}
		return nil
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add [source] [feed-url] [category]",
	Short: "Add an RSS feed to a source, creating the source if needed",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sourceID, err := db.UpsertSource(args[0], args[0], nil)
		if err != nil {
			return err
		}
		var category *string
		if len(args) > 2 {
			category = &args[2]
		}
		id, err := db.AddFeed(sourceID, args[1], nil, category)
		if err != nil {
			return err
		}
		fmt.Printf("Added feed [%d] to %s: %s\n", id, args[0], args[1])
		return nil
	},
}

var sourcesToggleCmd = &cobra.Command{
	Use:   "toggle [source] [on|off]",
	Short: "Enable or disable a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var active bool
		switch args[1] {
		case "on":
			active = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		if err := db.SetSourceActive(args[0], active); err != nil {
			return err
		}
		fmt.Printf("Source %s: %s\n", args[0], args[1])
		return nil
	},
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether the monitored news sites are online",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		report, err := scheduler.NewSourceMonitor(cfg.Sources.Monitored, db).Check(ctx)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(report.Sources))
		for name := range report.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := report.Sources[name]
			line := fmt.Sprintf("  %-8s %-14s %s", st.Status, st.DisplayName, st.URL)
			if st.Error != "" {
				line += "  (" + st.Error + ")"
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d/%d online\n", report.Online, report.Total)
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesToggleCmd)
	sourcesCmd.AddCommand(sourcesCheckCmd)
}

// --- wiring ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildManager creates the provider manager from the enabled backends in
// priority order. Unknown provider names are an error.
func buildManager() (*llm.Manager, error) {
	p := cfg.Providers
	providers := make([]llm.Provider, 0, len(p.Enabled))
	for _, name := range p.Enabled {
		b := p.Backend(name)
		provider, err := llm.NewProvider(llm.BackendConfig{
			Name:           name,
			APIKey:         p.APIKey(name),
			BaseURL:        b.BaseURL,
			Model:          b.Model,
			EmbeddingModel: b.EmbeddingModel,
			Timeout:        p.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return llm.NewManager(providers, llm.ManagerOptions{
		LoadBalance:      p.LoadBalance,
		TargetDimensions: p.TargetDimensions,
		RecoveryCooldown: p.RecoveryCooldown,
	}), nil
}

func newAnalyzer(db *database.DB, manager *llm.Manager) *analysis.Analyzer {
	return analysis.NewAnalyzer(db, manager, analysis.Options{
		Concurrency:  cfg.Analysis.Concurrency,
		Delay:        cfg.Analysis.Delay,
		ContentChars: cfg.Analysis.ContentChars,
	})
}

func newIndexer(db *database.DB, manager *llm.Manager) *index.Indexer {
	return index.New(db, manager, index.Options{
		BatchSize:   cfg.Index.BatchSize,
		Concurrency: cfg.Index.Concurrency,
		EmbedDelay:  cfg.Index.EmbedDelay,
		BatchDelay:  cfg.Index.BatchDelay,
	})
}

// openVectorStore connects to Qdrant when enabled. It returns nil, nil when
// the store is disabled.
func openVectorStore(ctx context.Context, dims int) (*vectorstore.Store, error) {
	if !cfg.VectorStore.Qdrant.Enabled {
		return nil, nil
	}
	store, err := vectorstore.NewStore(cfg.VectorStore.Qdrant)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureCollection(ctx, dims); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newVerifier searches Qdrant when it is enabled and the local embeddings
// otherwise. The returned func releases the vector store.
func newVerifier(ctx context.Context, db *database.DB, manager *llm.Manager) (*verify.Verifier, func(), error) {
	opts := verify.Options{
		TopK:         cfg.Verification.TopK,
		ContentChars: cfg.Verification.ContentChars,
	}
	store, err := openVectorStore(ctx, manager.TargetDimensions())
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return verify.New(manager, db, db, opts), func() {}, nil
	}
	searcher := vectorstore.NewSearcher(store, db)
	return verify.New(manager, searcher, db, opts), func() { store.Close() }, nil
}

func newPipeline(ctx context.Context, db *database.DB, manager *llm.Manager, daysBack int) (*pipeline.Pipeline, func(), error) {
	pipe := pipeline.New(cfg, db, manager, daysBack)
	store, err := openVectorStore(ctx, manager.TargetDimensions())
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return pipe, func() {}, nil
	}
	return pipe.WithMirror(store), func() { store.Close() }, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

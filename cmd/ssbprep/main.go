package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/ssbprep/internal/analysis"
	"github.com/pavelanni/ssbprep/internal/export"
	"github.com/pavelanni/ssbprep/internal/handler"
	appI18n "github.com/pavelanni/ssbprep/internal/i18n"
	"github.com/pavelanni/ssbprep/internal/jobs"
	"github.com/pavelanni/ssbprep/internal/llm"
	"github.com/pavelanni/ssbprep/internal/llm/prompts"
	"github.com/pavelanni/ssbprep/internal/model"
	"github.com/pavelanni/ssbprep/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error loading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ssbprep",
		Short: "SSB interview practice server with LLM-based OLQ assessment",
	}

	serve := serveCmd()
	root.AddCommand(serve, workerCmd(), exportCmd(), seedCmd(), speakCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `ssbprep --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-provider", llm.ProviderOpenAI, "LLM provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
}

func addRunnerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("prompt-variant", string(prompts.PromptStandard), "Scoring prompt variant (strict, standard, lenient)")
	f.Int("workers", 1, "Number of background analysis workers")
	f.Duration("poll-interval", 5*time.Second, "How often idle workers look for queued jobs")
	f.Int("max-attempts", 3, "Attempts per analysis job before the session is marked failed")
	f.Int("score-attempts", 3, "Scoring calls per response before fallback scores are used")
	f.Float64("llm-rate", 1, "Maximum scoring calls per second")
	f.String("network-probe-url", "", "URL probed before running network jobs (empty = always online)")
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "ssbprep.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default message language (en, hi)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP interview server and the analysis workers",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	addRunnerFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("questions", "q", nil, "Question pool JSON files to import on start (repeatable)")
	f.IntP("num-questions", "n", 10, "Number of questions per interview (0 = all available)")
	f.Bool("shuffle", true, "Randomize question order")
	f.Int("minutes-per-question", 2, "Minutes per question used for the duration estimate")
	f.Bool("no-workers", false, "Do not run analysis workers in this process")
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the analysis workers without the HTTP server",
		RunE:  runWorker,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	addRunnerFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export interview results as JSON or XLSX",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("format", export.FormatJSON, "Output format (json, xlsx)")
	f.String("date", "", "Export date in YYYY-MM-DD format (default today)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Prompt variant included in export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [files...]",
		Short: "Import question pool JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSeed,
	}
	addCommonFlags(cmd)
	return cmd
}

func speakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Pre-render question audio for voice interviews",
		RunE:  runSpeak,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.String("tts-model", "tts-1", "Speech model name")
	f.String("tts-voice", "alloy", "Speech voice")
	f.Float64("tts-speed", 1, "Speech speed")
	f.StringP("output", "o", "audio", "Directory for the rendered audio files")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SSBPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ssbprep")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ssbprep")
	v.AddConfigPath("/etc/ssbprep")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup does the work every command shares: logging, i18n and the database.
func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func promptVariant(v *viper.Viper) string {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	return variant
}

func newLLMClient(ctx context.Context, v *viper.Viper) (llm.Client, error) {
	client, err := llm.New(ctx, llm.Config{
		Provider: strings.ToLower(v.GetString("llm-provider")),
		BaseURL:  v.GetString("llm-url"),
		APIKey:   v.GetString("llm-key"),
		Model:    v.GetString("llm-model"),
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	// Analysis jobs wait for connectivity, so an unreachable endpoint is not fatal here.
	if err := client.Ping(ctx); err != nil {
		slog.Warn("LLM health check failed", "provider", v.GetString("llm-provider"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "provider", v.GetString("llm-provider"), "model", v.GetString("llm-model"))
	}
	return client, nil
}

// newRunner builds the job runner with the analysis handler registered.
func newRunner(v *viper.Viper, db *store.Store, client llm.Completer) (*jobs.Runner, error) {
	variant := promptVariant(v)
	scorer, err := llm.NewScorer(client, variant)
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}
	analyzer := analysis.New(db, scorer, analysis.LogNotifier{}, analysis.Config{
		MaxAttempts:    v.GetInt("score-attempts"),
		CallsPerSecond: v.GetFloat64("llm-rate"),
	})

	var probe jobs.NetworkProbe
	if u := v.GetString("network-probe-url"); u != "" {
		probe = jobs.HTTPProbe{URL: u}
	}
	runner := jobs.NewRunner(db, probe, jobs.RunnerConfig{
		Workers:      v.GetInt("workers"),
		PollInterval: v.GetDuration("poll-interval"),
		MaxAttempts:  v.GetInt("max-attempts"),
	})
	runner.Register(model.AnalysisJobKind, analyzer)
	slog.Info("analysis workers configured", "workers", v.GetInt("workers"), "prompt_variant", variant)
	return runner, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loadQuestions(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	interviewCfg := model.InterviewConfig{
		NumQuestions:       v.GetInt("num-questions"),
		Shuffle:            v.GetBool("shuffle"),
		MinutesPerQuestion: v.GetInt("minutes-per-question"),
		PromptVariant:      promptVariant(v),
	}

	h := handler.New(db, jobs.NewQueue(db), interviewCfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	if !v.GetBool("no-workers") {
		client, err := newLLMClient(ctx, v)
		if err != nil {
			return err
		}
		defer client.Close()
		runner, err := newRunner(v, db, client)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"lang", v.GetString("lang"),
		"num_questions", interviewCfg.NumQuestions,
		"shuffle", interviewCfg.Shuffle,
		"prompt_variant", interviewCfg.PromptVariant,
	)
	return g.Wait()
}

func runWorker(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newLLMClient(ctx, v)
	if err != nil {
		return err
	}
	defer client.Close()
	runner, err := newRunner(v, db, client)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ExportAllSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	date := v.GetString("date")
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	results := model.ResultsExport{
		ExportID:      uuid.NewString(),
		Date:          date,
		PromptVariant: v.GetString("prompt-variant"),
		Sessions:      sessions,
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := export.Write(w, strings.ToLower(v.GetString("format")), results); err != nil {
		return err
	}
	slog.Info("exported sessions", "count", len(sessions), "format", v.GetString("format"), "output", outPath)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	_, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	return loadQuestions(cmd.Context(), db, args)
}

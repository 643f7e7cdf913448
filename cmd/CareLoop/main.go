package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CareLoop/internal/api"
	"github.com/BTreeMap/CareLoop/internal/conversation"
	"github.com/BTreeMap/CareLoop/internal/dispatch"
	"github.com/BTreeMap/CareLoop/internal/flow"
	"github.com/BTreeMap/CareLoop/internal/genai"
	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/scheduler"
	"github.com/BTreeMap/CareLoop/internal/session"
	"github.com/BTreeMap/CareLoop/internal/store"
	"github.com/BTreeMap/CareLoop/internal/twiliowhatsapp"
	"github.com/BTreeMap/CareLoop/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareLoop state data
	DefaultStateDir = "/var/lib/careloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careloop.db"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	OpenAIModel   string
	APIAddr       string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	ReminderFresh time.Duration
	Debug         bool
}

func main() {
	config := loadEnvironmentConfig()

	dbDSN := flag.String("db-dsn", config.DatabaseURL, "database DSN (postgres:// URL or SQLite path)")
	stateDir := flag.String("state-dir", config.StateDir, "directory for state data")
	apiAddr := flag.String("api-addr", config.APIAddr, "API listen address")
	openaiKey := flag.String("openai-key", config.OpenAIKey, "OpenAI API key")
	debug := flag.Bool("debug", config.Debug, "enable debug logging")
	flag.Parse()

	initializeLogger(*debug)

	if err := run(config, *dbDSN, *stateDir, *apiAddr, *openaiKey); err != nil {
		slog.Error("CareLoop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareLoop exited successfully")
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      util.GetEnvOrDefault("CARELOOP_STATE_DIR", DefaultStateDir),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		ReminderFresh: util.ParseDurationEnv("REMINDER_FRESHNESS", 0),
		Debug:         util.ParseBoolEnv("CARELOOP_DEBUG", false),
	}
	return config
}

func run(config Config, dbDSN, stateDir, apiAddr, openaiKey string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	if dbDSN == "" {
		dbDSN = filepath.Join(stateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL set, using SQLite in state dir", "path", dbDSN)
	}

	st, err := openStore(dbDSN, config.ReminderFresh)
	if err != nil {
		return err
	}
	defer st.Close()

	twilioClient, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(config.TwilioSID),
		twiliowhatsapp.WithAuthToken(config.TwilioToken),
		twiliowhatsapp.WithFromNumber(config.TwilioFrom),
	)
	if err != nil {
		return err
	}
	msgs := messaging.NewTwilioService(twilioClient)

	var gen genai.Generator
	genaiOpts := []genai.Option{genai.WithAPIKey(openaiKey)}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	if client, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI disabled", "error", err)
	} else {
		gen = client
	}

	sessions := session.NewMemoryStore()
	hub := flow.NewHub(sessions, st, msgs, gen)
	detector := conversation.NewDetector(sessions, st)
	router := dispatch.NewRouter(sessions, detector, st, msgs, hub)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	jobs := scheduler.NewJobs(st, sessions, msgs, hub)
	if err := jobs.Register(sched); err != nil {
		return err
	}

	server := api.NewServer(msgs, st, msgs.WebhookHandler, api.WithAddr(apiAddr))
	if err := server.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := msgs.Start(ctx); err != nil {
		return err
	}

	// Inbound messages drive the dispatch router, one at a time.
	go func() {
		for resp := range msgs.Responses() {
			router.Dispatch(ctx, resp)
		}
	}()

	slog.Info("CareLoop running", "api_addr", apiAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Warn("API server shutdown error", "error", err)
	}
	if err := msgs.Stop(); err != nil {
		slog.Warn("Messaging service shutdown error", "error", err)
	}
	return nil
}

// openStore picks the backing store from the DSN shape.
func openStore(dsn string, freshness time.Duration) (store.Store, error) {
	opts := []store.Option{}
	if freshness > 0 {
		opts = append(opts, store.WithReminderFreshness(freshness))
	}
	switch store.DetectDSNType(dsn) {
	case "postgres":
		return store.NewPostgresStore(append(opts, store.WithPostgresDSN(dsn))...)
	default:
		return store.NewSQLiteStore(append(opts, store.WithSQLiteDSN(dsn))...)
	}
}

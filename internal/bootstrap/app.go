package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/analysis"
	"routing-backend/internal/classifier"
	"routing-backend/internal/decisions"
	"routing-backend/internal/desks"
	"routing-backend/internal/llm"
	"routing-backend/internal/queue"
	"routing-backend/internal/rules"
	"routing-backend/internal/services/health"
	"routing-backend/internal/shared/config"
	"routing-backend/internal/shared/server"
	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/storage/db"
)

// Options tune how Build wires the process.
type Options struct {
	// DBOptions sizes the connection pool; zero uses the server defaults.
	DBOptions *db.Options
	// Migrate runs pending migrations after connecting.
	Migrate bool
	// WithQueue dispatches analysis runs through SQS when a queue URL is set.
	WithQueue bool
	// WithRouter builds the HTTP router.
	WithRouter bool
}

// App holds shared dependencies.
type App struct {
	Config  config.Config
	Routing *config.RoutingConfig
	Router  *gin.Engine
	DB      *sql.DB
	Queue   queue.Client

	Desks      *desks.StaticRegistry
	LLM        *llm.Client
	Rules      *rules.Service
	Classifier *classifier.Classifier
	Decisions  *decisions.Service
	Analysis   *analysis.Engine
	Health     *health.Service
}

// Build prepares shared dependencies and, when asked, the router.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	routing, err := config.LoadRoutingConfig(cfg.RoutingConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load routing config: %w", err)
	}
	routing.ApplyEnv(cfg)

	sqlDB, err := buildDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Routing: routing,
		DB:      sqlDB,
	}

	if opts.WithQueue {
		if app.Queue, err = buildQueue(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	if opts.WithRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:   cfg,
			Health:   app.Health,
			APILimit: apiLimit(routing.RateLimit),
			Handlers: []server.RouteRegistrar{
				classifier.NewHandler(app.Classifier),
				rules.NewHandler(app.Rules),
				decisions.NewHandler(app.Decisions),
				analysis.NewHandler(app.Analysis),
			},
		})
	}

	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	poolOpts := db.DefaultServerOptions()
	if opts.DBOptions != nil {
		poolOpts = *opts.DBOptions
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(poolOpts))
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if opts.Migrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.SQSQueueURL == "" {
		return nil, nil
	}
	client, err := queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("build analysis queue: %w", err)
	}
	return client, nil
}

func buildServices(ctx context.Context, app *App) error {
	routing := app.Routing

	registry, err := desks.NewStaticRegistry(routing.Desks)
	if err != nil {
		return fmt.Errorf("desk roster: %w", err)
	}

	var (
		ruleRepo     rules.Repo
		decisionRepo decisions.Repo
		analysisRepo analysis.Repo
	)
	if app.DB != nil {
		ruleRepo = &rules.PGRepo{DB: app.DB}
		decisionRepo = &decisions.PGRepo{DB: app.DB}
		analysisRepo = &analysis.PGRepo{DB: app.DB}
	} else {
		memRules := rules.NewMemoryRepo()
		ruleRepo = memRules
		decisionRepo = decisions.NewMemoryRepo(memRules)
		analysisRepo = analysis.NewMemoryRepo(memRules)
	}

	var (
		scorer     llm.Scorer
		summarizer llm.Summarizer
	)
	client, err := buildLLM(ctx, app.Config, routing)
	if err != nil {
		return err
	}
	if client != nil {
		app.LLM = client
		scorer = client
		summarizer = client
	}

	ruleSvc := rules.NewService(ruleRepo)
	decisionSvc := decisions.NewService(decisionRepo)
	engine := analysis.NewEngine(routing.Analysis, analysisRepo, decisionSvc, ruleSvc, registry, routing.Pricing)
	engine.Summarizer = summarizer
	engine.Queue = app.Queue
	engine.RunsPerDay = max(0, routing.RateLimit.AnalysisTriggersPerDay)

	app.Desks = registry
	app.Rules = ruleSvc
	app.Decisions = decisionSvc
	app.Classifier = classifier.New(routing.Classifier, routing.Pricing, scorer, ruleSvc, registry)
	app.Analysis = engine
	app.Health = health.NewService(app.DB, app.Config.SQSQueueURL, routing.LLM.Provider)
	return nil
}

// buildLLM returns nil when no provider key is configured, which disables the
// LLM scoring pass and analysis narratives.
func buildLLM(ctx context.Context, cfg config.Config, routing *config.RoutingConfig) (*llm.Client, error) {
	if cfg.LLMAPIKey == "" || routing.LLM.Provider == "" || routing.LLM.Provider == "none" {
		log.Printf("bootstrap: no llm provider configured; scoring and summaries disabled")
		return nil, nil
	}
	base, err := llm.NewCompleter(ctx, llm.ProviderConfig{Provider: routing.LLM.Provider, APIKey: cfg.LLMAPIKey})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	retrying := llm.WithRetry(base)
	// MaxRetries counts retries after the first attempt.
	retrying.Policy.MaxAttempts = routing.LLM.MaxRetries + 1
	return &llm.Client{
		Completer:    retrying,
		ScoreModel:   routing.LLM.ScoreModel,
		SummaryModel: routing.LLM.SummaryModel,
		Pricing:      routing.Pricing,
	}, nil
}

// apiLimit returns nil when per-team request limiting is disabled.
func apiLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	rule := middleware.PerSecond(cfg.RequestsPerSecond, cfg.Burst)
	if rule.Rate <= 0 {
		return nil
	}
	return middleware.RateLimit(middleware.RateLimitConfig{
		Rules:        map[string]middleware.RateLimitRule{"API": rule},
		DefaultGroup: "API",
	})
}

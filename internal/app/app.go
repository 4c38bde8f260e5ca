package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/adapter/googledrive"
	drivemem "github.com/jun/erpdrive/internal/adapter/memory"
	"github.com/jun/erpdrive/internal/auth"
	"github.com/jun/erpdrive/internal/config"
	"github.com/jun/erpdrive/internal/crypto"
	"github.com/jun/erpdrive/internal/documents"
	"github.com/jun/erpdrive/internal/events"
	"github.com/jun/erpdrive/internal/folder"
	"github.com/jun/erpdrive/internal/folderlock"
	"github.com/jun/erpdrive/internal/handler"
	"github.com/jun/erpdrive/internal/ledger"
	"github.com/jun/erpdrive/internal/metrics"
	"github.com/jun/erpdrive/internal/migrate"
	"github.com/jun/erpdrive/internal/model"
	"github.com/jun/erpdrive/internal/repository/memory"
	"github.com/jun/erpdrive/internal/repository/postgres"
	"github.com/jun/erpdrive/internal/secret"
)

// devRootID stands in for the shared drive when DRIVE_BACKEND=memory.
const devRootID = "dev-shared-drive"

// App holds the dependencies of the Lambda function and the local server.
type App struct {
	*Router

	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry

	closers []func()
}

// NewApp loads configuration and wires every component.
func NewApp(ctx context.Context) (*App, error) {
	config.LoadDotEnv()
	base := config.FromEnv()

	logger, err := NewLogger(base.DevMode, base.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var (
		resolver  secret.Resolver
		decryptor crypto.Decryptor
	)
	if base.DevMode {
		resolver = secret.NewEnvResolver()
		decryptor = crypto.Plaintext{}
		logger.Info("using environment secrets (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg), base.SSMPrefix)
		decryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), base.KMSKeyID)
	}

	cfg, err := config.Load(ctx, resolver, decryptor)
	if err != nil {
		return nil, err
	}

	return Build(ctx, cfg, awsCfg, logger)
}

// Build wires the application from a loaded configuration.
func Build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	remote, err := a.remoteStore(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	var registry folderlock.Registry
	if cfg.FolderClaimsTable != "" {
		registry = folderlock.NewDynamoRegistry(dynamodb.NewFromConfig(awsCfg), cfg.FolderClaimsTable)
		logger.Info("folder claims enabled", zap.String("table", cfg.FolderClaimsTable))
	}
	resolver := folder.NewResolver(remote, registry, logger, m)

	bus := events.NewBus()
	ledger.NewHandler(logger).Register(bus)

	var (
		docs      documents.DocumentStore
		users     documents.UserDirectory
		sessions  documents.SessionDirectory
		ledgerSvc *handler.LedgerHandler
	)
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		dir := postgres.NewDirectoryRepo(db)
		docs, users, sessions = postgres.NewDocumentRepo(db, bus), dir, dir
		ledgerSvc = handler.NewLedgerHandler(postgres.NewLedgerRepo(db), cfg.JWTSecret, logger)
	} else {
		dir := memory.NewDirectory()
		dir.AddUser(model.UserFolderContext{UserID: "demo-user", FirstName: "Demo", LastName: "User"})
		dir.AddSession(model.SessionFolderContext{SessionID: "demo-session", SessionNumber: 1, SessionName: "Demo", DealID: "demo-deal", DealTitle: "Demo", OrganizationName: "Demo"})
		docs, users, sessions = memory.NewDocumentStore(bus), dir, dir
		logger.Warn("DATABASE_URL not set, using in-memory document store")
	}

	docCfg := cfg.Documents()
	userDocs := documents.NewUserDocuments(remote, resolver, docs, users, cfg.UsersFolderName, docCfg, logger, m)
	sessionDocs := documents.NewSessionDocuments(remote, resolver, docs, sessions, docCfg, logger, m)

	a.Router = NewRouter(Handlers{
		UserDocuments:    handler.NewDocumentHandler(userDocs, "user_id", cfg.JWTSecret, logger),
		SessionDocuments: handler.NewDocumentHandler(sessionDocs, "session_id", cfg.JWTSecret, logger),
		Ledger:           ledgerSvc,
	}, RouterOptions{
		DevMode:      cfg.DevMode,
		OriginSecret: cfg.APIGatewaySecret,
		FrontendURL:  cfg.FrontendURL,
	}, logger)
	return a, nil
}

func (a *App) remoteStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (adapter.RemoteStore, error) {
	if cfg.DriveBackend == config.BackendMemory {
		if cfg.RootFolderID == "" {
			cfg.RootFolderID = devRootID
		}
		store := drivemem.NewMemoryAdapter()
		store.AddRoot(cfg.RootFolderID)
		a.Logger.Info("using in-memory drive (DRIVE_BACKEND=memory)")
		return store, nil
	}

	tokens := auth.NewServiceAccountTokenProvider(cfg.ServiceAccount(), auth.WithLogger(a.Logger), auth.WithMetrics(m))
	store, err := googledrive.NewDriveAdapter(ctx, tokens.HTTPClient(), cfg.SharedDriveID, a.Logger, m)
	if err != nil {
		return nil, fmt.Errorf("init drive client: %w", err)
	}
	return store, nil
}

// MetricsHandler exposes the application registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}

// NewLogger builds a development logger in DEV_MODE and a JSON production logger otherwise.
func NewLogger(devMode bool, level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if devMode {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

package app

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	firestorecli "github.com/you-humble/docconv/core/libs/firestore"
	mio "github.com/you-humble/docconv/core/libs/minio"
	natsq "github.com/you-humble/docconv/core/libs/nats"
	rediscli "github.com/you-humble/docconv/core/libs/redis"
	"github.com/you-humble/docconv/internal/converter"
	"github.com/you-humble/docconv/internal/infra/archive"
	"github.com/you-humble/docconv/internal/infra/config"
	"github.com/you-humble/docconv/internal/infra/events"
	"github.com/you-humble/docconv/internal/infra/inspect"
	"github.com/you-humble/docconv/internal/infra/store/history"
	"github.com/you-humble/docconv/internal/janitor"
	"github.com/you-humble/docconv/internal/transport"
	"github.com/you-humble/docconv/internal/transport/grpchealth"
	"github.com/you-humble/docconv/internal/usecase"
	"github.com/you-humble/docconv/internal/workspace"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type historyStore interface {
	usecase.HistoryStore
	Ping(ctx context.Context) error
}

type Options struct {
	ConfigPath string
	EnvFile    string
	LogOutput  io.Writer
}

type dependencyInjector struct {
	opts   Options
	cfg    *config.Config
	logger *slog.Logger

	workspace *workspace.Manager
	invoker   *converter.Invoker
	inspector *inspect.PDFInspector

	redis     *redis.Client
	firestore *firestore.Client
	history   historyStore

	archive usecase.Archiver

	natsConn  *nats.Conn
	js        nats.JetStreamContext
	publisher *events.Publisher

	janitor *janitor.Janitor
	grpc    *grpchealth.Server

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI(opts Options) *dependencyInjector {
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stdout
	}
	return &dependencyInjector{opts: opts}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.opts.ConfigPath, di.opts.EnvFile)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		cfg := di.Config().Log

		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
		hopts := &slog.HandlerOptions{Level: level}

		var h slog.Handler
		if strings.EqualFold(cfg.Format, "json") {
			h = slog.NewJSONHandler(di.opts.LogOutput, hopts)
		} else {
			h = slog.NewTextHandler(di.opts.LogOutput, hopts)
		}
		di.logger = slog.New(h)
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Workspace() *workspace.Manager {
	if di.workspace == nil {
		cfg := di.Config()
		ws, err := workspace.New(cfg.IntakeDir, cfg.OutputDir)
		if err != nil {
			log.Fatalf("Workspace: %+v", err)
		}
		if err := ws.EnsureDirectories(); err != nil {
			log.Fatalf("Workspace directories: %+v", err)
		}

		di.workspace = ws
		di.Logger().Info("workspace ready",
			slog.String("intake_dir", ws.IntakeDir()),
			slog.String("output_dir", ws.OutputDir()),
		)
	}
	return di.workspace
}

func (di *dependencyInjector) Invoker(ctx context.Context) *converter.Invoker {
	if di.invoker == nil {
		cfg := di.Config()
		inv := converter.New(
			converter.Config{
				InterpreterPath: cfg.Converter.InterpreterPath,
				ScriptPath:      cfg.Converter.ScriptPath,
				OfficePath:      cfg.Converter.OfficePath,
			},
			converter.Options{
				MaxParallel:      cfg.MaxParallel,
				AdmissionTimeout: cfg.AdmissionTimeout,
				ExcerptBytes:     cfg.ExcerptBytes,
			},
		)

		versions, err := inv.Probe(ctx)
		if err != nil {
			log.Fatalf("Converter tools: %+v", err)
		}

		di.invoker = inv
		di.Logger().Info("converter tools available",
			slog.String("interpreter", versions.Interpreter),
			slog.String("office", versions.Office),
			slog.Int("max_parallel", cfg.MaxParallel),
		)
	}
	return di.invoker
}

func (di *dependencyInjector) Inspector() *inspect.PDFInspector {
	if di.inspector == nil {
		di.inspector = inspect.NewPDFInspector()
	}
	return di.inspector
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().History.Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) FirestoreClient(ctx context.Context) *firestore.Client {
	if di.firestore == nil {
		cfg := di.Config().History.Firestore
		client, err := firestorecli.NewClient(ctx, firestorecli.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			log.Fatalf("Firestore: %+v", err)
		}

		di.firestore = client
		di.Logger().Info("connected to firestore", slog.String("project_id", cfg.ProjectID))
	}
	return di.firestore
}

func (di *dependencyInjector) History(ctx context.Context) historyStore {
	if di.history == nil {
		cfg := di.Config().History

		var store historyStore
		switch cfg.Driver {
		case config.DriverFirestore:
			store = history.NewFirestoreStore(di.FirestoreClient(ctx), cfg.Firestore.Collection)
		default:
			store = history.NewRedisStore(di.RedisClient(ctx), cfg.Redis.Prefix)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			log.Fatalf("History store: %+v", err)
		}

		di.history = store
		di.Logger().Info("history store ready", slog.String("driver", cfg.Driver))
	}
	return di.history
}

// Archive returns nil when archiving is disabled.
func (di *dependencyInjector) Archive(ctx context.Context) usecase.Archiver {
	cfg := di.Config().Archive
	if !cfg.Enabled {
		return nil
	}

	if di.archive == nil {
		client, err := mio.NewClient(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
		})
		if err != nil {
			log.Fatalf("Archive minio: %+v", err)
		}

		di.archive = archive.NewMinIOStore(client, cfg.MinIO.Bucket, cfg.MinIO.BasePath)
		di.Logger().Info(
			"initialized MinIO artifact archive",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)
	}
	return di.archive
}

func (di *dependencyInjector) NATSConn() *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().Events.NATS
		nc, err := natsq.NewConnect(natsq.Config{
			URL:           cfg.URL,
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream() nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config().Events.NATS
		js, err := natsq.NewJetStream(di.NATSConn(), &nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

// Publisher returns nil when events are disabled.
func (di *dependencyInjector) Publisher() *events.Publisher {
	cfg := di.Config().Events
	if !cfg.Enabled {
		return nil
	}

	if di.publisher == nil {
		di.publisher = events.NewPublisher(
			events.NewJetStreamSink(di.JetStream(), cfg.NATS.Subject),
			cfg.QueueCapacity,
			cfg.PoolSize,
			cfg.MaxRetries,
		)
		di.Logger().Info(
			"using job event publisher (NATS JetStream)",
			slog.String("subject", cfg.NATS.Subject),
			slog.Int("queue_size", cfg.QueueCapacity),
			slog.Int("worker_num", cfg.PoolSize),
			slog.Int("max_retries", cfg.MaxRetries),
		)
	}
	return di.publisher
}

func (di *dependencyInjector) Janitor() *janitor.Janitor {
	if di.janitor == nil {
		cfg := di.Config()
		di.janitor = janitor.New(cfg.SweepInterval, cfg.SweepMaxAge, di.Workspace())
	}
	return di.janitor
}

// GRPC returns nil when the health endpoint is disabled.
func (di *dependencyInjector) GRPC() *grpchealth.Server {
	cfg := di.Config().GRPC
	if !cfg.Enabled {
		return nil
	}

	if di.grpc == nil {
		di.grpc = grpchealth.New(cfg.Addr, di.Logger())
	}
	return di.grpc
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()

		var publisher usecase.Publisher = events.Nop{}
		if p := di.Publisher(); p != nil {
			publisher = p
		}

		di.usecase = usecase.New(
			usecase.Options{
				ConversionTimeout: cfg.ConversionTimeout,
				VerifyPDF:         cfg.VerifyPDF,
			},
			di.Workspace(),
			di.Invoker(ctx),
			di.Inspector(),
			di.History(ctx),
			di.Archive(ctx),
			publisher,
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}

// Close releases client connections. It is called once, after the servers
// have stopped.
func (di *dependencyInjector) Close() {
	if di.natsConn != nil {
		if err := di.natsConn.Drain(); err != nil {
			slog.Warn("nats drain", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("redis close", slog.String("error", err.Error()))
		}
	}
	if di.firestore != nil {
		if err := di.firestore.Close(); err != nil {
			slog.Warn("firestore close", slog.String("error", err.Error()))
		}
	}
}

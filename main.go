// Command obs-relay lets authorized chat users drive a local OBS Studio
// instance and archives replay-buffer clips to Google Drive.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres (token store, archive run log) and runs
//     the embedded migrations.
//   - Wires the process launcher, obs-websocket client, blocking-call bridge,
//     credential store and upload pipeline into the command surface.
//   - Serves commands from Twitch chat and from the admin HTTP endpoint, and
//     exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/obs-relay/archive"
	"github.com/onnwee/obs-relay/artifact"
	"github.com/onnwee/obs-relay/bridge"
	"github.com/onnwee/obs-relay/chat"
	"github.com/onnwee/obs-relay/config"
	"github.com/onnwee/obs-relay/control"
	"github.com/onnwee/obs-relay/crypto"
	"github.com/onnwee/obs-relay/db"
	"github.com/onnwee/obs-relay/drive"
	"github.com/onnwee/obs-relay/launcher"
	"github.com/onnwee/obs-relay/oauth"
	"github.com/onnwee/obs-relay/obsws"
	"github.com/onnwee/obs-relay/server"
	"github.com/onnwee/obs-relay/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// credentialName keys the Drive token in the credential_blobs table.
const credentialName = "google_drive"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing("obs-relay", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if cfg.DBDsn != "" {
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
			os.Exit(1)
		}
	}

	pool := bridge.New(cfg.BridgeWorkers)
	capture := obsws.NewClient(obsws.Config{
		Host:           cfg.OBSHost,
		Port:           cfg.OBSPort,
		Password:       cfg.OBSPassword,
		DialTimeout:    cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})
	procs := launcher.New(launcher.Options{
		Paths:          cfg.OBSExecutablePaths,
		Args:           cfg.OBSLaunchArgs,
		DetectExternal: cfg.OBSDetectExternal,
		Probe:          launcher.SystemProbe{},
	})

	notices := make(chan string, 4)
	var (
		sink   archive.Sink
		store  *oauth.Store
		broker *oauth.Broker
	)
	if cfg.DriveConfigured() {
		store, broker, err = setupCredentials(cfg, database, notices)
		if err != nil {
			slog.Error("google drive setup failed", slog.Any("err", err))
			os.Exit(1)
		}
		oauth.StartRefresher(ctx, store, cfg.RefreshInterval, cfg.RefreshWindow)
		uploader := drive.New(store, cfg.GoogleFolderID)
		slog.Info("replays upload to google drive", slog.String("folder_id", uploader.FolderID()), slog.String("component", "drive"))
		sink = uploader
	} else {
		slog.Warn("google drive not configured; saved replays are kept locally", slog.String("component", "drive"))
	}

	pipeline := archive.New(capture, sink, pool, archive.Options{
		RecordDir:     cfg.ReplayDir,
		Extensions:    artifact.ParseExtensions(cfg.ReplayExtensions),
		SettleDelay:   cfg.SaveSettle,
		UploadTimeout: cfg.UploadTimeout,
	})

	opts := control.Options{SpawnSettle: cfg.SpawnSettle}
	var runLog *db.RunLog
	if database != nil {
		runLog = &db.RunLog{DB: database}
		opts.OnRun = func(ctx context.Context, r *archive.Run) {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := runLog.Record(rctx, db.RecordFromRun(r)); err != nil {
				slog.Warn("archive run not recorded", slog.Any("err", err), slog.String("component", "db"))
			}
		}
	}
	svc := control.New(capture, procs, pipeline, pool, opts)

	deps := server.Deps{Control: svc}
	if store != nil {
		deps.Credentials, deps.Consent = store, broker
	}
	if runLog != nil {
		deps.Runs = runLog
	}

	chatDone := make(chan struct{})
	if !cfg.ChatConfigured() {
		slog.Info("twitch creds not set; chat front end disabled", slog.String("component", "chat"))
		close(chatDone)
	} else {
		go runChat(ctx, cfg, svc, notices, chatDone)
	}

	startPprof()

	if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, deps)); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		stop()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	<-chatDone
	if err := capture.Disconnect(); err != nil {
		slog.Warn("disconnect failed", slog.Any("err", err), slog.String("component", "obsws"))
	}
	pool.Wait()
}

// runChat serves the Twitch chat front end until ctx is cancelled.
func runChat(ctx context.Context, cfg *config.Config, svc *control.Service, notices <-chan string, done chan<- struct{}) {
	defer close(done)
	err := chat.Run(ctx, chat.Config{
		Channel:        cfg.TwitchChannel,
		Username:       cfg.TwitchBotUsername,
		OAuthToken:     cfg.TwitchOAuthToken,
		Prefix:         cfg.CommandPrefix,
		AllowedBadges:  cfg.AllowedBadges,
		CommandTimeout: cfg.CommandTimeout,
		Notices:        notices,
	}, svc)
	if err != nil {
		slog.Error("chat front end exited with error", slog.Any("err", err), slog.String("component", "chat"))
	}
}

// setupCredentials builds the consent broker and the token store over the
// configured blob backend.
func setupCredentials(cfg *config.Config, database *sql.DB, notices chan<- string) (*oauth.Store, *oauth.Broker, error) {
	oc, err := drive.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.GoogleCredFile, drive.ParseScopes(cfg.DriveScopes))
	if err != nil {
		return nil, nil, err
	}

	var blobs oauth.BlobStore
	switch cfg.TokenStore {
	case config.TokenStorePostgres:
		if database == nil {
			return nil, nil, fmt.Errorf("TOKEN_STORE=postgres requires DB_DSN")
		}
		blobs = db.NewCredentialStore(database, credentialName)
	default:
		blobs = oauth.NewFileStore(cfg.GoogleTokenFile)
	}
	if cfg.EncryptionKey != "" {
		sealer, err := crypto.NewAESSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, err
		}
		blobs = &oauth.SealedStore{Inner: blobs, Sealer: sealer}
	}

	// The consent URL binds whoever opens it to the upload account, so chat
	// only gets a notice; the URL itself goes to the service log.
	broker := oauth.NewBroker(oc, cfg.ConsentTimeout, func(string) {
		select {
		case notices <- "Google Drive authorization is required. The operator can finish it from the link in the service log or /auth/drive/start.":
		default:
		}
	})
	store := oauth.NewStore(blobs, oauth.ConfigRefresher(oc), broker.Consent)
	slog.Info("google drive uploads enabled", slog.String("token_store", cfg.TokenStore), slog.Bool("sealed", cfg.EncryptionKey != ""), slog.String("component", "drive"))
	return store, broker, nil
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format), slog.String("version", version))
}

// startPprof serves /debug/pprof on PPROF_ADDR when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

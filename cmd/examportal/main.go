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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/examportal/internal/account"
	"github.com/pavelanni/examportal/internal/exam"
	"github.com/pavelanni/examportal/internal/handler"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/ingest"
	"github.com/pavelanni/examportal/internal/ingest/tabular"
	"github.com/pavelanni/examportal/internal/media"
	"github.com/pavelanni/examportal/internal/metrics"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/sheets"
	"github.com/pavelanni/examportal/internal/store"
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examportal",
		Short: "Online multiple-choice exam portal",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), usersCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func addMediaFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("media-backend", "inline", "Where embedded document images go (inline, local, minio)")
	f.String("media-dir", "media", "Directory for the local media backend")
	f.String("media-url-prefix", "/media", "URL prefix for locally stored images")
	f.String("minio-endpoint", "localhost:9000", "MinIO endpoint (host:port)")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "exam-media", "MinIO bucket for images")
	f.Bool("minio-secure", false, "Use TLS for MinIO")
	f.String("minio-public-url", "", "Public base URL for MinIO objects (defaults to the endpoint)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examportal.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default message language (en, hi)")
	f.String("admin-password", "", "Initial admin password (or set EXAMPORTAL_ADMIN_PASSWORD)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("session-ttl", 12*time.Hour, "Lifetime of a login session")
	f.Float64("login-rate", 1, "Login attempts per second allowed per client")
	f.Int("login-burst", 5, "Login attempts a client may make at once")
	f.Bool("trust-proxy", false, "Take client addresses from X-Forwarded-For / X-Real-IP (only behind a reverse proxy)")
	f.Duration("sheet-timeout", 20*time.Second, "Timeout for Google Sheet downloads")
	f.Int64("max-upload-mb", 20, "Maximum Word upload size in MB")
	f.String("session-cleanup", "@every 1h", "Cron schedule for purging expired sessions")
	addMediaFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import questions from .docx, .html or .csv files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "examportal.db", "SQLite database path")
	f.StringP("subject", "s", "", "Subject for the imported questions (required for Word files)")
	addMediaFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage student accounts",
	}
	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Create students from a CSV of username, display name, password",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsersImport,
	}
	f := imp.Flags()
	f.String("db", "examportal.db", "SQLite database path")
	f.String("password-prefix", tabular.DefaultPasswordPrefix, "Prefix for generated passwords")
	addLogFlags(imp)
	cmd.AddCommand(imp)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam responses as CSV",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examportal.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
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

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examportal")
	v.AddConfigPath("/etc/examportal")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newMediaSink builds the image sink selected by --media-backend. The inline
// backend returns a nil sink, which keeps images as data URIs.
func newMediaSink(ctx context.Context, v *viper.Viper) (media.Sink, error) {
	switch backend := strings.ToLower(v.GetString("media-backend")); backend {
	case "", "inline":
		return nil, nil
	case "local":
		return &media.LocalSink{Dir: v.GetString("media-dir"), URLPrefix: v.GetString("media-url-prefix")}, nil
	case "minio":
		sink, err := media.NewMinioSink(media.MinioConfig{
			Endpoint:  v.GetString("minio-endpoint"),
			AccessKey: v.GetString("minio-access-key"),
			SecretKey: v.GetString("minio-secret-key"),
			Bucket:    v.GetString("minio-bucket"),
			Secure:    v.GetBool("minio-secure"),
			PublicURL: v.GetString("minio-public-url"),
		})
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", backend)
	}
}

// newRouter returns a router with the base middleware installed. Forwarded
// address headers are honoured only when trustProxy is set, since login
// throttling keys on the client address.
func newRouter(trustProxy bool) *chi.Mux {
	r := chi.NewRouter()
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	accounts := account.New(db, 0)
	if err := accounts.SeedAdmin(ctx, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	slog.Debug("translations loaded", "languages", appI18n.Languages())

	sink, err := newMediaSink(ctx, v)
	if err != nil {
		return fmt.Errorf("media backend: %w", err)
	}
	importer := ingest.New(db, sink, sheets.New(v.GetDuration("sheet-timeout")))
	engine := exam.New(db)
	m := metrics.New()

	examCfg := model.ExamConfig{
		SecureCookies: v.GetBool("secure-cookies"),
		SessionTTL:    v.GetDuration("session-ttl"),
		MaxUploadMB:   v.GetInt64("max-upload-mb"),
		LoginRate:     v.GetFloat64("login-rate"),
		LoginBurst:    v.GetInt("login-burst"),
	}
	if _, ok := sink.(*media.LocalSink); ok {
		examCfg.MediaDir = v.GetString("media-dir")
		examCfg.MediaURLPrefix = v.GetString("media-url-prefix")
	}

	h, err := handler.New(db, engine, accounts, importer, m, examCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := newRouter(v.GetBool("trust-proxy"))
	r.Use(m.Middleware)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(v.GetString("session-cleanup"), func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := db.CleanupExpiredSessions(jobCtx)
		if err != nil {
			slog.Error("session cleanup failed", "error", err)
			return
		}
		swept := h.SweepLoginLimiters(time.Hour)
		slog.Info("session cleanup", "expired_sessions", n, "idle_limiters", swept)
	}); err != nil {
		return fmt.Errorf("schedule session cleanup: %w", err)
	}
	c.Start()
	defer c.Stop()

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"media_backend", v.GetString("media-backend"),
		"trust_proxy", v.GetBool("trust-proxy"),
		"session_ttl", examCfg.SessionTTL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sink, err := newMediaSink(ctx, v)
	if err != nil {
		return fmt.Errorf("media backend: %w", err)
	}
	importer := ingest.New(db, sink, nil)
	subject := v.GetString("subject")

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)

		var rep *ingest.Report
		switch strings.ToLower(filepath.Ext(path)) {
		case ".docx":
			rep, err = importer.ImportDocx(ctx, name, subject, data)
		case ".html", ".htm":
			rep, err = importer.ImportHTML(ctx, name, subject, data)
		case ".csv":
			rep, err = importer.ImportCSV(ctx, name, subject, string(data))
		default:
			return fmt.Errorf("%s: unsupported file type", path)
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d added, %d skipped, %d passages\n",
			path, rep.Added, rep.Skipped, rep.Passages)
	}
	return nil
}

func runUsersImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rows := tabular.ParseUsers(tabular.ReadCSV(string(data)), v.GetString("password-prefix"))
	results, created := account.New(db, 0).BulkCreate(cmd.Context(), rows)
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%s\t%s\n", r.Username, r.Status)
	}
	fmt.Fprintf(out, "created %d of %d\n", created, len(results))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := db.ExportResponsesCSV(cmd.Context(), w); err != nil {
		return fmt.Errorf("export responses: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

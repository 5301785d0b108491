package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"teamcal/internal/breaksync"
	"teamcal/internal/cache"
	"teamcal/internal/config"
	"teamcal/internal/ics"
	appLog "teamcal/internal/log"
	"teamcal/internal/store"
	"teamcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath   string
	listen       string
	once         bool
	hashPassword string
}

func main() {
	flags := parseFlags()

	if flags.hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(flags.hashPassword), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	appLog.Info("teamcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"default_view", conf.DefaultView,
		"refresh", conf.RefreshCron,
		"database", conf.Database.Enabled(),
		"redis", conf.Redis.URL != "",
		"holiday_feeds", len(conf.HolidayFeeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("teamcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("teamcal exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, conf, loc)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := openCache(ctx, conf)
	if err != nil {
		return err
	}
	defer c.Close()

	fetcher := ics.NewFetcher(conf.FeedCacheDir, &http.Client{Timeout: 30 * time.Second})
	syncer := breaksync.New(conf.HolidayFeeds, fetcher, st, c, loc)

	if once {
		results, err := syncer.Run(ctx)
		for _, r := range results {
			appLog.Info("holiday feed result", "feed", r.FeedID, "season_id", r.SeasonID, "breaks", r.Breaks, "error", r.Error)
		}
		return err
	}

	if len(conf.HolidayFeeds) > 0 {
		if _, err := syncer.Schedule(ctx, conf.RefreshCron); err != nil {
			return err
		}
		// Import once at startup so breaks exist before the first tick.
		go func() {
			if _, err := syncer.Run(ctx); err != nil {
				appLog.Warn("initial holiday import finished with errors", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(conf, web.Deps{
			Store:    st,
			Cache:    c,
			Syncer:   syncer,
			Location: loc,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects MariaDB when a database host is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, conf *config.Config, loc *time.Location) (store.Store, error) {
	if conf.Database.Enabled() {
		db, err := store.OpenMySQL(ctx, conf.Database, loc)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	appLog.Warn("no database configured; using the in-memory store")
	m := store.NewMemory(loc)
	if conf.SeedFile != "" {
		seed, err := store.LoadSeed(conf.SeedFile)
		if err != nil {
			return nil, err
		}
		seed.Apply(m)
		appLog.Info("seed loaded", "path", conf.SeedFile)
	}
	return m, nil
}

func openCache(ctx context.Context, conf *config.Config) (cache.Cache, error) {
	if conf.Redis.URL != "" {
		r, err := cache.NewRedis(ctx, conf.Redis.URL, conf.Redis.TTL)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return cache.NewMemory(conf.Redis.TTL), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/teamcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Import all holiday feeds once and exit")
	flag.StringVar(&cfg.hashPassword, "hash-password", "", "Print the bcrypt hash of the given password for basic_auth.password_hash and exit")

	flag.Parse()

	return cfg
}

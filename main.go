package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mentormodule/pkg/rolegate"
)

func main() {
	// Auto-load ./.env if present before reading vars
	loadDotEnv()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.Server.LogLevel, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}

	gate, err := buildGate(cfg.Auth.PermissionsFile)
	if err != nil {
		log.Fatalf("role table: %v", err)
	}

	// Support a lightweight migrate command: `./mentor migrate`
	// It runs AutoMigrate and role seeding then exits. Useful for CI or manual DB setup.
	migrateOnly := len(os.Args) > 1 && os.Args[1] == "migrate"
	if migrateOnly {
		cfg.Database.AutoMigrate = true
	}
	db, err := initDB(cfg.Database, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := seedRoles(db, gate); err != nil {
		logger.Warn("role seeding failed", "error", err)
	}
	if migrateOnly {
		fmt.Println("migration and seeding completed")
		return
	}
	ensureUploadBase(cfg.Upload.BaseDir, logger)

	a := newApp(cfg, logger, db, gate)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.PermissionsFile != "" {
		go func() {
			if err := gate.Watch(ctx, cfg.Auth.PermissionsFile, logger); err != nil {
				logger.Error("role table watcher stopped", "error", err)
			}
		}()
	}
	go a.runPurgeLoop(ctx)

	if cfg.isProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// buildGate loads the permission table from path, or the built-in table when path is empty.
func buildGate(path string) (*rolegate.Gate, error) {
	table := rolegate.DefaultTable()
	if path != "" {
		t, err := rolegate.LoadTable(path)
		if err != nil {
			return nil, err
		}
		table = t
	}
	return rolegate.New(table)
}

// loadDotEnv loads key=value pairs from a local .env file into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func loadDotEnv() {
	path := ".env"
	if _, err := os.Stat(path); err != nil {
		return // no .env file
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}

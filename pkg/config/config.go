// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package config loads backend configuration for the part management
// system.
//
// Every key is resolved with the same precedence:
//
//	environment variable > config.json > built-in default
//
// Paths (database file, upload folder, backup directory, log directory)
// are resolved to absolute paths against a base directory so the server
// behaves the same regardless of the working directory it was started
// from.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults that apply when neither the environment nor config.json
// provide a value.
const (
	DefaultPort            = 5000
	DefaultBackupDir       = "backups"
	DefaultRetentionDays   = 10
	DefaultIntervalHours   = 24
	DefaultUploadFolder    = "uploads"
	DefaultLogDir          = "logs"
	DefaultOAuthBaseURL    = "https://oauth.onshape.com"
	DefaultAPIBaseURL      = "https://cad.onshape.com"
	devDatabaseName        = "parts.db"
	productionDatabaseName = "parts_prod.db"
)

// Config holds the resolved configuration for the backend.
type Config struct {
	// SecretKey is the app API key clients must present. Required in
	// production.
	SecretKey string

	// Env is the deployment environment ("production" by default).
	Env string

	// Port is the HTTP listen port.
	Port int

	// DatabaseURL is the raw database URL (sqlite:///...).
	DatabaseURL string

	// DatabasePath is the resolved absolute path to the SQLite file.
	// Empty when DatabaseURL does not point at SQLite.
	DatabasePath string

	// CORSOrigins lists allowed CORS origins.
	CORSOrigins []string

	// UploadFolder is the absolute path where drawings are stored.
	UploadFolder string

	// MaxFileSize caps uploads in bytes. Zero means unlimited.
	MaxFileSize int64

	// AllowedExtensions is the lowercase upload extension allow-list
	// (without dots).
	AllowedExtensions []string

	// BasePath is an optional prefix for every route.
	BasePath string

	// Onshape API-key credentials (fallback auth for drawing export).
	OnshapeAccessKey string
	OnshapeSecretKey string

	// Onshape OAuth application settings.
	OnshapeOAuthClientID     string
	OnshapeOAuthClientSecret string
	OnshapeOAuthRedirectURI  string
	OnshapeOAuthBaseURL      string
	OnshapeAPIBaseURL        string

	// Backup settings.
	BackupDir           string
	BackupRetentionDays int
	BackupIntervalHours float64

	// Logging settings.
	LogDir   string
	LogLevel string

	// BaseDir anchors relative path resolution.
	BaseDir string
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsSQLite reports whether the configured database is a SQLite file.
func (c *Config) IsSQLite() bool {
	return c.DatabasePath != ""
}

// loader resolves keys against the environment and an optional
// config.json file.
type loader struct {
	file map[string]any
}

// loadConfigFile reads config.json from dir. A missing or corrupted
// file yields an empty map so defaults apply.
func loadConfigFile(dir string) map[string]any {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return map[string]any{}
	}
	values := map[string]any{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return map[string]any{}
	}
	return values
}

func (l *loader) get(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	if v, ok := l.file[key]; ok {
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return fallback
}

// getList resolves a list-valued key. Environment values may be a JSON
// array or a comma-separated string; config.json values must be arrays.
func (l *loader) getList(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var parsed []string
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
		var items []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return items
	}
	if v, ok := l.file[key]; ok {
		if arr, ok := v.([]any); ok {
			var items []string
			for _, item := range arr {
				if s, ok := item.(string); ok {
					items = append(items, s)
				}
			}
			return items
		}
	}
	return fallback
}

func (l *loader) getInt(key string, fallback int) int {
	raw := l.get(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (l *loader) getInt64(key string, fallback int64) int64 {
	raw := l.get(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (l *loader) getFloat(key string, fallback float64) float64 {
	raw := l.get(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Load resolves the full configuration anchored at baseDir.
//
// In production mode DATABASE_URL and SECRET_KEY must be set
// explicitly; Load returns an error otherwise.
func Load(baseDir string) (*Config, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}

	l := &loader{file: loadConfigFile(abs)}

	cfg := &Config{
		SecretKey:                l.get("SECRET_KEY", ""),
		Env:                      l.get("APP_ENV", "production"),
		Port:                     l.getInt("PORT", DefaultPort),
		CORSOrigins:              l.getList("CORS_ORIGINS", []string{"http://localhost:5000"}),
		MaxFileSize:              l.getInt64("MAX_FILE_SIZE", 0),
		AllowedExtensions:        normalizeExtensions(l.getList("ALLOWED_EXTENSIONS", []string{"step", "stp", "pdf"})),
		BasePath:                 strings.TrimSuffix(l.get("BASE_PATH", ""), "/"),
		OnshapeAccessKey:         l.get("ONSHAPE_ACCESS_KEY", ""),
		OnshapeSecretKey:         l.get("ONSHAPE_SECRET_KEY", ""),
		OnshapeOAuthClientID:     l.get("ONSHAPE_OAUTH_CLIENT_ID", ""),
		OnshapeOAuthClientSecret: l.get("ONSHAPE_OAUTH_CLIENT_SECRET", ""),
		OnshapeOAuthRedirectURI:  l.get("ONSHAPE_OAUTH_REDIRECT_URI", ""),
		OnshapeOAuthBaseURL:      strings.TrimSuffix(l.get("ONSHAPE_OAUTH_BASE_URL", DefaultOAuthBaseURL), "/"),
		OnshapeAPIBaseURL:        strings.TrimSuffix(l.get("ONSHAPE_API_BASE_URL", DefaultAPIBaseURL), "/"),
		BackupRetentionDays:      l.getInt("BACKUP_RETENTION_DAYS", DefaultRetentionDays),
		BackupIntervalHours:      l.getFloat("BACKUP_INTERVAL_HOURS", DefaultIntervalHours),
		LogLevel:                 l.get("LOG_LEVEL", "info"),
		BaseDir:                  abs,
	}

	if cfg.IsProduction() {
		if l.get("DATABASE_URL", "") == "" {
			return nil, errors.New("DATABASE_URL must be set in production (via environment variable or config.json)")
		}
		if cfg.SecretKey == "" {
			return nil, errors.New("SECRET_KEY must be set in production (via environment variable or config.json)")
		}
	}

	cfg.DatabaseURL = resolveDatabaseURL(l, abs, cfg.Env)
	cfg.DatabasePath = SQLitePath(cfg.DatabaseURL, abs)
	cfg.UploadFolder = resolveDir(l.get("UPLOAD_FOLDER", DefaultUploadFolder), abs)
	cfg.BackupDir = resolveDir(l.get("BACKUP_DIR", DefaultBackupDir), abs)
	cfg.LogDir = resolveDir(l.get("LOG_DIR", DefaultLogDir), abs)

	return cfg, nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

// AllowsExtension reports whether the file extension (with or without a
// leading dot) is on the upload allow-list.
func (c *Config) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func resolveDir(dir, baseDir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(baseDir, dir)
}

// resolveDatabaseURL applies the original URL resolution rules: external
// databases pass through untouched, relative SQLite paths are anchored
// at the base directory, and a missing URL falls back to a per-env
// default SQLite file.
func resolveDatabaseURL(l *loader, baseDir, env string) string {
	dbURL := l.get("DATABASE_URL", "")

	if dbURL != "" && !strings.HasPrefix(dbURL, "sqlite://") {
		return dbURL
	}
	if dbURL != "" {
		if strings.HasPrefix(dbURL, "sqlite:////") {
			return dbURL
		}
		rel := strings.TrimPrefix(dbURL, "sqlite:///")
		return "sqlite:///" + filepath.Join(baseDir, rel)
	}

	name := devDatabaseName
	if env == "production" {
		name = productionDatabaseName
	}
	return "sqlite:///" + filepath.Join(baseDir, name)
}

// SQLitePath extracts the file path from a sqlite URL. Returns "" for
// non-sqlite URLs. Relative paths are anchored at baseDir.
func SQLitePath(databaseURL, baseDir string) string {
	if !strings.HasPrefix(databaseURL, "sqlite:///") {
		return ""
	}
	path := strings.TrimPrefix(databaseURL, "sqlite:///")
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

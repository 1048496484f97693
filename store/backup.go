// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
)

// Backup defaults. Retention is by age, not count: a team that forces
// many backups in one day keeps them all until they expire.
const (
	DefaultRetentionDays   = 10
	DefaultIntervalHours   = 24
	backupTimestampLayout  = "2006-01-02_150405"
	backupFilenameSuffix   = ".bak"
	backupStepPagesAtOnce  = -1 // copy everything in one step
	errNilSQLiteConnection = "connection is not a sqlite3 connection"
)

// BackupInfo describes one backup file.
type BackupInfo struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// BackupStatus summarizes the backup directory.
type BackupStatus struct {
	Exists     bool         `json:"exists"`
	Count      int          `json:"count"`
	TotalSize  int64        `json:"total_size"`
	LastBackup *time.Time   `json:"last_backup,omitempty"`
	Backups    []BackupInfo `json:"backups"`
}

// CreateBackup copies the SQLite database at dbPath into backupDir
// using SQLite's online backup API, which produces a consistent copy
// even while the WAL is live. The source is opened read-only. A
// partial backup file is removed on failure.
func CreateBackup(ctx context.Context, dbPath, backupDir string) (string, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return "", fmt.Errorf("database file not found at %s", dbPath)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	timestamp := time.Now().Format(backupTimestampLayout)
	backupPath := filepath.Join(backupDir,
		fmt.Sprintf("%s.%s%s", filepath.Base(dbPath), timestamp, backupFilenameSuffix))

	if err := onlineBackup(ctx, dbPath, backupPath); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}

// onlineBackup drives sqlite3_backup from a read-only source
// connection into a fresh destination file.
func onlineBackup(ctx context.Context, srcPath, destPath string) error {
	src, err := sql.Open("sqlite3", "file:"+srcPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("opening source database: %w", err)
	}
	defer src.Close()

	dest, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return fmt.Errorf("opening backup destination: %w", err)
	}
	defer dest.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring source connection: %w", err)
	}
	defer srcConn.Close()

	destConn, err := dest.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring destination connection: %w", err)
	}
	defer destConn.Close()

	return destConn.Raw(func(rawDest any) error {
		return srcConn.Raw(func(rawSrc any) error {
			srcSQLite, ok := rawSrc.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New(errNilSQLiteConnection)
			}
			destSQLite, ok := rawDest.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New(errNilSQLiteConnection)
			}

			backup, err := destSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return fmt.Errorf("starting backup: %w", err)
			}
			defer backup.Finish()

			for {
				done, err := backup.Step(backupStepPagesAtOnce)
				if err != nil {
					return fmt.Errorf("backup step: %w", err)
				}
				if done {
					return nil
				}
			}
		})
	})
}

// CleanupOldBackups removes .bak files older than retentionDays by
// modification time. Returns the number removed.
func CleanupOldBackups(backupDir string, retentionDays int, log *logging.Logger) int {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupFilenameSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Error("failed to remove old backup", "path", path, "error", err)
				continue
			}
			log.Info("removed old backup", "path", path)
			removed++
		}
	}
	return removed
}

// ReadBackupStatus inventories the backup directory, newest first.
func ReadBackupStatus(backupDir string) BackupStatus {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return BackupStatus{Exists: false, Backups: []BackupInfo{}}
	}

	status := BackupStatus{Exists: true, Backups: []BackupInfo{}}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupFilenameSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		status.Backups = append(status.Backups, BackupInfo{
			Filename: entry.Name(),
			Path:     filepath.Join(backupDir, entry.Name()),
			Size:     info.Size(),
			Created:  info.ModTime(),
		})
		status.TotalSize += info.Size()
	}
	sort.Slice(status.Backups, func(i, j int) bool {
		return status.Backups[i].Created.After(status.Backups[j].Created)
	})
	status.Count = len(status.Backups)
	if status.Count > 0 {
		status.LastBackup = &status.Backups[0].Created
	}
	return status
}

// BackupScheduler runs periodic database backups in the background:
// one backup immediately at start, then one per interval, each
// followed by a retention sweep.
type BackupScheduler struct {
	dbPath        string
	backupDir     string
	retentionDays int
	interval      time.Duration
	log           *logging.Logger

	mu         sync.Mutex
	lastBackup time.Time
	running    bool

	// onBackup, when set, observes every backup attempt (metrics).
	onBackup func(err error)
}

// BackupSchedulerConfig configures a scheduler. Zero values take the
// package defaults.
type BackupSchedulerConfig struct {
	DBPath        string
	BackupDir     string
	RetentionDays int
	IntervalHours float64
	Log           *logging.Logger
	OnBackup      func(err error)
}

// NewBackupScheduler creates a scheduler; call Run to start it.
func NewBackupScheduler(cfg BackupSchedulerConfig) *BackupScheduler {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.IntervalHours <= 0 {
		cfg.IntervalHours = DefaultIntervalHours
	}
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}
	return &BackupScheduler{
		dbPath:        cfg.DBPath,
		backupDir:     cfg.BackupDir,
		retentionDays: cfg.RetentionDays,
		interval:      time.Duration(cfg.IntervalHours * float64(time.Hour)),
		log:           cfg.Log,
		onBackup:      cfg.OnBackup,
	}
}

// Run performs a backup immediately, then one per interval until ctx
// is canceled. Always returns nil so an errgroup peer shutting down is
// the only way out.
func (b *BackupScheduler) Run(ctx context.Context) error {
	b.setRunning(true)
	defer b.setRunning(false)
	b.log.Info("backup scheduler started",
		"interval", b.interval.String(), "retention_days", b.retentionDays)

	b.performBackup(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			b.performBackup(ctx)
		}
	}
}

func (b *BackupScheduler) performBackup(ctx context.Context) {
	path, err := b.ForceBackup(ctx)
	if err != nil {
		b.log.Error("scheduled backup failed", "error", err)
		return
	}
	b.log.Info("backup created", "path", path)
	CleanupOldBackups(b.backupDir, b.retentionDays, b.log)
}

// ForceBackup runs one backup right now, bypassing the schedule.
func (b *BackupScheduler) ForceBackup(ctx context.Context) (string, error) {
	path, err := CreateBackup(ctx, b.dbPath, b.backupDir)
	if b.onBackup != nil {
		b.onBackup(err)
	}
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.lastBackup = time.Now()
	b.mu.Unlock()
	return path, nil
}

// Status reports the backup directory inventory plus scheduler state.
func (b *BackupScheduler) Status() BackupStatus {
	return ReadBackupStatus(b.backupDir)
}

// LastBackupTime returns the time of the last successful backup, zero
// when none has run yet.
func (b *BackupScheduler) LastBackupTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBackup
}

// IsRunning reports whether the scheduler loop is active.
func (b *BackupScheduler) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *BackupScheduler) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
)

func seedDatabase(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "parts.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	_, err = s.CreatePart(context.Background(), samplePart("3322-001"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	return dbPath
}

func TestCreateBackupProducesUsableCopy(t *testing.T) {
	dir := t.TempDir()
	dbPath := seedDatabase(t, dir)
	backupDir := filepath.Join(dir, "backups")

	backupPath, err := CreateBackup(context.Background(), dbPath, backupDir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(backupPath, ".bak"))
	assert.Contains(t, filepath.Base(backupPath), "parts.db.")

	// The backup opens as a normal database with the data intact.
	restored, err := Open(backupPath)
	require.NoError(t, err)
	defer restored.Close()
	parts, err := restored.ListParts(context.Background(), PartFilter{})
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestCreateBackupMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateBackup(context.Background(), filepath.Join(dir, "nope.db"), filepath.Join(dir, "backups"))
	assert.ErrorContains(t, err, "not found")
}

func TestCleanupOldBackups(t *testing.T) {
	dir := t.TempDir()
	log := logging.Default()

	oldFile := filepath.Join(dir, "parts.db.2020-01-01_000000.bak")
	newFile := filepath.Join(dir, "parts.db.2099-01-01_000000.bak")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{oldFile, newFile, other} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	ancient := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldFile, ancient, ancient))

	removed := CleanupOldBackups(dir, 10, log)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, newFile)
	// Non-backup files are never touched.
	assert.FileExists(t, other)
}

func TestReadBackupStatus(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		status := ReadBackupStatus(filepath.Join(t.TempDir(), "missing"))
		assert.False(t, status.Exists)
		assert.Zero(t, status.Count)
		assert.NotNil(t, status.Backups)
	})

	t.Run("inventories newest first", func(t *testing.T) {
		dir := t.TempDir()
		older := filepath.Join(dir, "parts.db.a.bak")
		newer := filepath.Join(dir, "parts.db.b.bak")
		require.NoError(t, os.WriteFile(older, []byte("aa"), 0o644))
		require.NoError(t, os.WriteFile(newer, []byte("bbbb"), 0o644))
		past := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(older, past, past))

		status := ReadBackupStatus(dir)
		assert.True(t, status.Exists)
		assert.Equal(t, 2, status.Count)
		assert.EqualValues(t, 6, status.TotalSize)
		require.Len(t, status.Backups, 2)
		assert.Equal(t, "parts.db.b.bak", status.Backups[0].Filename)
		require.NotNil(t, status.LastBackup)
	})
}

func TestSchedulerForceBackup(t *testing.T) {
	dir := t.TempDir()
	dbPath := seedDatabase(t, dir)

	var observed []error
	scheduler := NewBackupScheduler(BackupSchedulerConfig{
		DBPath:    dbPath,
		BackupDir: filepath.Join(dir, "backups"),
		Log:       logging.Default(),
		OnBackup:  func(err error) { observed = append(observed, err) },
	})

	path, err := scheduler.ForceBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.False(t, scheduler.LastBackupTime().IsZero())
	require.Len(t, observed, 1)
	assert.NoError(t, observed[0])
}

func TestSchedulerRunBacksUpImmediatelyAndStops(t *testing.T) {
	dir := t.TempDir()
	dbPath := seedDatabase(t, dir)
	backupDir := filepath.Join(dir, "backups")

	scheduler := NewBackupScheduler(BackupSchedulerConfig{
		DBPath:        dbPath,
		BackupDir:     backupDir,
		IntervalHours: 1,
		Log:           logging.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	// The startup backup lands without waiting for the interval.
	require.Eventually(t, func() bool {
		return scheduler.Status().Count == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, scheduler.IsRunning())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
	assert.False(t, scheduler.IsRunning())
}

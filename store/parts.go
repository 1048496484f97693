// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePartNumber is returned when a create or update collides
// with an existing part_number.
var ErrDuplicatePartNumber = errors.New("part number already exists")

// Part is one row of the parts table.
type Part struct {
	ID                int64
	PartNumber        string
	Name              string
	Description       string
	Material          string
	MaterialThickness sql.NullString
	Quantity          int
	Status            string
	OnshapeURL        string
	DrawingFile       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PartUpdate carries a partial update; nil fields are left unchanged.
type PartUpdate struct {
	PartNumber        *string
	Name              *string
	Description       *string
	Material          *string
	MaterialThickness *string
	Quantity          *int
	Status            *string
	OnshapeURL        *string
	DrawingFile       *string
}

// PartFilter narrows ListParts results.
type PartFilter struct {
	// Status matches exactly when non-empty.
	Status string
	// Search matches name, part_number or description, case-insensitive.
	Search string
}

const partColumns = `id, part_number, name, description, material, material_thickness,
	quantity, status, onshape_url, drawing_file, created_at, updated_at`

func scanPart(row interface{ Scan(...any) error }) (*Part, error) {
	var p Part
	err := row.Scan(
		&p.ID, &p.PartNumber, &p.Name, &p.Description, &p.Material,
		&p.MaterialThickness, &p.Quantity, &p.Status, &p.OnshapeURL,
		&p.DrawingFile, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePart inserts a part and returns it with ID and timestamps set.
func (s *Store) CreatePart(ctx context.Context, p *Part) (*Part, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parts (part_number, name, description, material, material_thickness,
			quantity, status, onshape_url, drawing_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PartNumber, p.Name, p.Description, p.Material, p.MaterialThickness,
		p.Quantity, p.Status, p.OnshapeURL, p.DrawingFile, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePartNumber
		}
		return nil, fmt.Errorf("inserting part: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading insert id: %w", err)
	}
	return s.GetPart(ctx, id)
}

// GetPart fetches one part by id.
func (s *Store) GetPart(ctx context.Context, id int64) (*Part, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE id = ?`, id)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying part %d: %w", id, err)
	}
	return p, nil
}

// ListParts returns parts matching the filter, newest first.
func (s *Store) ListParts(ctx context.Context, filter PartFilter) ([]*Part, error) {
	query := `SELECT ` + partColumns + ` FROM parts`
	var clauses []string
	var args []any

	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		clauses = append(clauses, "(name LIKE ? OR part_number LIKE ? OR description LIKE ?)")
		args = append(args, like, like, like)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing parts: %w", err)
	}
	defer rows.Close()

	parts := []*Part{}
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning part: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// UpdatePart applies a partial update and returns the updated row.
func (s *Store) UpdatePart(ctx context.Context, id int64, update PartUpdate) (*Part, error) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.PartNumber != nil {
		add("part_number", *update.PartNumber)
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Material != nil {
		add("material", *update.Material)
	}
	if update.MaterialThickness != nil {
		add("material_thickness", *update.MaterialThickness)
	}
	if update.Quantity != nil {
		add("quantity", *update.Quantity)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.OnshapeURL != nil {
		add("onshape_url", *update.OnshapeURL)
	}
	if update.DrawingFile != nil {
		add("drawing_file", *update.DrawingFile)
	}
	if len(sets) == 0 {
		return s.GetPart(ctx, id)
	}

	add("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE parts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePartNumber
		}
		return nil, fmt.Errorf("updating part %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetPart(ctx, id)
}

// DeletePart removes a part by id.
func (s *Store) DeletePart(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting part %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountParts returns the number of parts; feeds the parts gauge.
func (s *Store) CountParts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting parts: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

package privileges

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/shared"
)

const privilegeColumns = `id, code, display_name, category, COALESCE(description, ''), created_by, created_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all privileges ordered by category and code.
func (r *Repository) List(ctx context.Context) ([]Privilege, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+privilegeColumns+` FROM privileges ORDER BY category, code`)
	if err != nil {
		return nil, fmt.Errorf("privileges: list: %w", err)
	}
	return Collect(rows)
}

// ListByCategory returns privileges of one category.
func (r *Repository) ListByCategory(ctx context.Context, category Category) ([]Privilege, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+privilegeColumns+` FROM privileges WHERE category = $1 ORDER BY code`, string(category))
	if err != nil {
		return nil, fmt.Errorf("privileges: list by category: %w", err)
	}
	return Collect(rows)
}

// Get loads a privilege by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Privilege, error) {
	p, err := Scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+privilegeColumns+` FROM privileges WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Privilege{}, shared.NotFoundf("privilege %s", id)
	}
	return p, err
}

// GetByCode loads a privilege by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Privilege, error) {
	p, err := Scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+privilegeColumns+` FROM privileges WHERE code = $1`, code))
	if db.IsNoRows(err) {
		return Privilege{}, shared.NotFoundf("privilege %q", code)
	}
	return p, err
}

// Create inserts a new privilege.
func (r *Repository) Create(ctx context.Context, input CreateInput) (Privilege, error) {
	p, err := Scan(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO privileges (code, display_name, category, description, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING `+privilegeColumns,
		input.Code, input.DisplayName, string(input.Category), input.Description, input.CreatedBy))
	if db.IsUniqueViolation(err) {
		return Privilege{}, shared.Conflictf("privilege code %q already exists", input.Code)
	}
	if err != nil {
		return Privilege{}, fmt.Errorf("privileges: insert: %w", err)
	}
	return p, nil
}

// Scan reads one privilege from a row selected with the canonical column list.
func Scan(row pgx.Row) (Privilege, error) {
	var p Privilege
	var category string
	if err := row.Scan(&p.ID, &p.Code, &p.DisplayName, &category, &p.Description, &p.CreatedBy, &p.CreatedAt); err != nil {
		return Privilege{}, err
	}
	p.Category = Category(category)
	return p, nil
}

// Collect drains rows selected with the canonical column list.
func Collect(rows pgx.Rows) ([]Privilege, error) {
	defer rows.Close()
	var out []Privilege
	for rows.Next() {
		p, err := Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("privileges: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

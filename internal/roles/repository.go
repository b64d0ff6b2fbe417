package roles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/shared"
)

const roleColumns = `id, code, display_name, tier, COALESCE(description, ''), created_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all roles.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	return collect(rows)
}

// ListByTier returns roles of a single tier.
func (r *Repository) ListByTier(ctx context.Context, tier Tier) ([]Role, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE tier = $1 ORDER BY code`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("roles: list by tier: %w", err)
	}
	return collect(rows)
}

// Get loads a role by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Role, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if db.IsNoRows(err) {
		return Role{}, shared.NotFoundf("role %s", id)
	}
	return role, err
}

// GetByCode loads a role by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Role, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1`, code)
	role, err := scanRole(row)
	if db.IsNoRows(err) {
		return Role{}, shared.NotFoundf("role %q", code)
	}
	return role, err
}

// Create inserts a new role.
func (r *Repository) Create(ctx context.Context, input CreateInput) (Role, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO roles (code, display_name, tier, description)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING `+roleColumns,
		input.Code, input.DisplayName, string(input.Tier), input.Description)
	role, err := scanRole(row)
	if db.IsUniqueViolation(err) {
		return Role{}, shared.Conflictf("role code %q already exists", input.Code)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: insert: %w", err)
	}
	return role, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var tier string
	if err := row.Scan(&role.ID, &role.Code, &role.DisplayName, &tier, &role.Description, &role.CreatedAt); err != nil {
		return Role{}, err
	}
	role.Tier = Tier(tier)
	return role, nil
}

func collect(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

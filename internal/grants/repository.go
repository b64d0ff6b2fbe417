package grants

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/shared"
)

const joinedPrivilegeColumns = `p.id, p.code, p.display_name, p.category, COALESCE(p.description, ''), p.created_by, p.created_at`

// Repository stores bindings in role_privilege_bindings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert binds a privilege to a role. It reports false when the pair already existed.
func (r *Repository) Insert(ctx context.Context, roleID, privilegeID uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO role_privilege_bindings (role_id, privilege_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, privilege_id) DO NOTHING`, roleID, privilegeID)
	if db.IsForeignKeyViolation(err) {
		return false, shared.NotFoundf("role %s or privilege %s", roleID, privilegeID)
	}
	if err != nil {
		return false, fmt.Errorf("grants: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes one binding and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, roleID, privilegeID uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM role_privilege_bindings WHERE role_id = $1 AND privilege_id = $2`, roleID, privilegeID)
	if err != nil {
		return false, fmt.Errorf("grants: delete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteAll removes every binding of a role.
func (r *Repository) DeleteAll(ctx context.Context, roleID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM role_privilege_bindings WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, fmt.Errorf("grants: delete all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByRole returns the privileges bound to a role ordered by code.
func (r *Repository) ListByRole(ctx context.Context, roleID uuid.UUID) ([]privileges.Privilege, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+joinedPrivilegeColumns+`
		FROM role_privilege_bindings b
		JOIN privileges p ON p.id = b.privilege_id
		WHERE b.role_id = $1
		ORDER BY p.code`, roleID)
	if err != nil {
		return nil, fmt.Errorf("grants: list by role: %w", err)
	}
	return privileges.Collect(rows)
}

// ListByRoles returns the distinct privileges bound to any of the roles.
func (r *Repository) ListByRoles(ctx context.Context, roleIDs []uuid.UUID) ([]privileges.Privilege, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT ON (p.code) `+joinedPrivilegeColumns+`
		FROM role_privilege_bindings b
		JOIN privileges p ON p.id = b.privilege_id
		WHERE b.role_id = ANY($1)
		ORDER BY p.code`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("grants: list by roles: %w", err)
	}
	return privileges.Collect(rows)
}

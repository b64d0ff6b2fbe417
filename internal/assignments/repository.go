package assignments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
)

const assignmentColumns = `
	a.id, a.user_id, a.role_id, a.region_id, a.department_id, a.municipality_id,
	a.active, a.created_at, a.updated_at,
	r.code, r.display_name, r.tier, COALESCE(r.description, '')`

const userColumns = `
	u.full_name, u.email, COALESCE(u.phone, ''), COALESCE(u.residence_municipality, ''),
	u.approval_state, u.active`

// Repository stores the ledger in role_assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser loads the owner metadata needed for policy checks.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (UserInfo, error) {
	var u UserInfo
	var state string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT u.id, `+userColumns+` FROM users u WHERE u.id = $1`, id).
		Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.ResidenceMunicipality, &state, &u.Active)
	if db.IsNoRows(err) {
		return UserInfo{}, shared.NotFoundf("user %s", id)
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("assignments: get user: %w", err)
	}
	u.ApprovalState = shared.ApprovalState(state)
	return u, nil
}

// Insert creates an active assignment. A second active assignment of the same
// role for the same user violates the partial unique index and is a Conflict.
func (r *Repository) Insert(ctx context.Context, in CreateInput) (Assignment, error) {
	loc := in.Location.Normalize()
	var id uuid.UUID
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO role_assignments (user_id, role_id, region_id, department_id, municipality_id, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id`,
		in.UserID, in.RoleID, loc.RegionID, loc.DepartmentID, loc.MunicipalityID).Scan(&id)
	if db.IsUniqueViolation(err) {
		return Assignment{}, shared.Conflictf("user %s already holds role %s", in.UserID, in.RoleID)
	}
	if db.IsForeignKeyViolation(err) {
		return Assignment{}, shared.NotFoundf("user %s or role %s", in.UserID, in.RoleID)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("assignments: insert: %w", err)
	}
	return r.Get(ctx, id)
}

// Get loads one assignment.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments a JOIN roles r ON r.id = a.role_id
		WHERE a.id = $1`, id)
	a, err := scanAssignment(row)
	if db.IsNoRows(err) {
		return Assignment{}, shared.NotFoundf("role assignment %s", id)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("assignments: get: %w", err)
	}
	return a, nil
}

// ListByUser returns active and inactive assignments of a user.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error) {
	return r.listForUser(ctx, userID, false)
}

// ActiveForUser returns only the active assignments of a user.
func (r *Repository) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]Assignment, error) {
	return r.listForUser(ctx, userID, true)
}

func (r *Repository) listForUser(ctx context.Context, userID uuid.UUID, onlyActive bool) ([]Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments a JOIN roles r ON r.id = a.role_id
		WHERE a.user_id = $1`
	if onlyActive {
		query += ` AND a.active`
	}
	query += ` ORDER BY a.created_at`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("assignments: list by user: %w", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("assignments: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns every assignment joined with its owner.
func (r *Repository) List(ctx context.Context) ([]Row, error) {
	return r.queryRows(ctx, "", nil)
}

// Search runs a resolved personnel query. At most one geographic column is filtered.
func (r *Repository) Search(ctx context.Context, q Query) ([]Row, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, fmt.Sprintf("a.active = $%d", argPos))
	args = append(args, q.Active)
	argPos++

	if q.RoleCode != "" {
		conditions = append(conditions, fmt.Sprintf("r.code = $%d", argPos))
		args = append(args, q.RoleCode)
		argPos++
	}

	if q.OnlyApproved {
		conditions = append(conditions, fmt.Sprintf("u.approval_state = '%s' AND u.active", shared.ApprovalApproved))
	}

	if column := scopeColumn(q.Scope.Kind); column != "" {
		conditions = append(conditions, fmt.Sprintf("a.%s = $%d", column, argPos))
		args = append(args, q.Scope.ID)
	}

	return r.queryRows(ctx, "WHERE "+strings.Join(conditions, " AND "), args)
}

func scopeColumn(kind shared.ScopeKind) string {
	switch kind {
	case shared.ScopeMunicipality:
		return "municipality_id"
	case shared.ScopeDepartment:
		return "department_id"
	case shared.ScopeRegion:
		return "region_id"
	default:
		return ""
	}
}

func (r *Repository) queryRows(ctx context.Context, where string, args []any) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		JOIN users u ON u.id = a.user_id
		%s
		ORDER BY u.full_name, r.code`, assignmentColumns, userColumns, where)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("assignments: search: %w", err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		var tier, state string
		a := &row.Assignment
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.RoleID, &a.RegionID, &a.DepartmentID, &a.MunicipalityID,
			&a.Active, &a.CreatedAt, &a.UpdatedAt,
			&a.Role.Code, &a.Role.DisplayName, &tier, &a.Role.Description,
			&row.User.FullName, &row.User.Email, &row.User.Phone, &row.User.ResidenceMunicipality,
			&state, &row.User.Active,
		); err != nil {
			return nil, fmt.Errorf("assignments: scan row: %w", err)
		}
		a.Role.ID = a.RoleID
		a.Role.Tier = roles.Tier(tier)
		row.User.ID = a.UserID
		row.User.ApprovalState = shared.ApprovalState(state)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetActive toggles an assignment. Reactivating into a duplicate active role is a Conflict.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) (Assignment, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE role_assignments SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if db.IsUniqueViolation(err) {
		return Assignment{}, shared.Conflictf("user already holds an active assignment of this role")
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("assignments: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Assignment{}, shared.NotFoundf("role assignment %s", id)
	}
	return r.Get(ctx, id)
}

// HasActiveRole reports whether the user holds an active assignment of the role code.
func (r *Repository) HasActiveRole(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM role_assignments a JOIN roles r ON r.id = a.role_id
			WHERE a.user_id = $1 AND r.code = $2 AND a.active
		)`, userID, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("assignments: has role: %w", err)
	}
	return exists, nil
}

// DeactivateAllForUser turns off every active assignment of a user.
func (r *Repository) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE role_assignments SET active = FALSE, updated_at = NOW() WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return 0, fmt.Errorf("assignments: deactivate all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAllForUser removes every assignment of a user.
func (r *Repository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("assignments: delete all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var tier string
	if err := row.Scan(
		&a.ID, &a.UserID, &a.RoleID, &a.RegionID, &a.DepartmentID, &a.MunicipalityID,
		&a.Active, &a.CreatedAt, &a.UpdatedAt,
		&a.Role.Code, &a.Role.DisplayName, &tier, &a.Role.Description,
	); err != nil {
		return Assignment{}, err
	}
	a.Role.ID = a.RoleID
	a.Role.Tier = roles.Tier(tier)
	return a, nil
}

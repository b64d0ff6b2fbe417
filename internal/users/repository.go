package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/shared"
)

const userColumns = `
	id, COALESCE(external_id, ''), email, COALESCE(national_id, ''), full_name,
	COALESCE(phone, ''), COALESCE(residence_municipality, ''),
	credentials, work_history, availability, COALESCE(extra_qualifications, ''),
	approval_state, active, email_confirmed, approved_at, COALESCE(rejection_reason, ''),
	deactivated_at, COALESCE(deactivation_reason, ''), created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new user. Duplicate email or national id is a Conflict.
func (r *Repository) Insert(ctx context.Context, u NewUser) (User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (
			external_id, email, national_id, full_name, phone, residence_municipality,
			credentials, work_history, availability, extra_qualifications, approval_state, active
		) VALUES (
			NULLIF($1, ''), $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''),
			$7, $8, $9, NULLIF($10, ''), $11, $12
		)
		RETURNING `+userColumns,
		u.ExternalID, u.Email, u.NationalID, u.FullName, u.Phone, u.ResidenceMunicipality,
		nonNil(u.Credentials), nonNil(u.WorkHistory), nonNil(u.Availability), u.ExtraQualifications,
		string(u.ApprovalState), u.Active)
	user, err := scanUser(row)
	if err != nil {
		return User{}, mapWriteError(err)
	}
	return user, nil
}

// Get loads a user by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return r.getBy(ctx, "id = $1", id, fmt.Sprintf("user %s", id))
}

// GetByEmail loads a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getBy(ctx, "email = $1", email, fmt.Sprintf("user with email %q", email))
}

// GetByExternalID loads a user by Auth service id.
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	return r.getBy(ctx, "external_id = $1", externalID, fmt.Sprintf("user with external id %q", externalID))
}

func (r *Repository) getBy(ctx context.Context, where string, arg any, what string) (User, error) {
	user, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if db.IsNoRows(err) {
		return User{}, shared.NotFoundf("%s", what)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return user, nil
}

// List returns all users ordered by name.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY full_name, email`)
}

// ListByState returns users in one approval state, oldest first.
func (r *Repository) ListByState(ctx context.Context, state shared.ApprovalState) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE approval_state = $1 ORDER BY created_at`, string(state))
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update applies a partial profile update.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (User, error) {
	var sets []string
	var args []any
	argPos := 1
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}
	if in.Email != nil {
		add("email", *in.Email)
	}
	if in.NationalID != nil {
		add("national_id", nullIfEmpty(*in.NationalID))
	}
	if in.FullName != nil {
		add("full_name", *in.FullName)
	}
	if in.Phone != nil {
		add("phone", nullIfEmpty(*in.Phone))
	}
	if in.ResidenceMunicipality != nil {
		add("residence_municipality", nullIfEmpty(*in.ResidenceMunicipality))
	}
	if in.Credentials != nil {
		add("credentials", nonNil(*in.Credentials))
	}
	if in.WorkHistory != nil {
		add("work_history", nonNil(*in.WorkHistory))
	}
	if in.Availability != nil {
		add("availability", nonNil(*in.Availability))
	}
	if in.ExtraQualifications != nil {
		add("extra_qualifications", nullIfEmpty(*in.ExtraQualifications))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), argPos, userColumns)
	user, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return User{}, shared.NotFoundf("user %s", id)
	}
	if err != nil {
		return User{}, mapWriteError(err)
	}
	return user, nil
}

// MarkApproved moves a pending or invited user to approved and activates it.
func (r *Repository) MarkApproved(ctx context.Context, id uuid.UUID) (User, error) {
	return r.transition(ctx, id, `
		approval_state = 'approved', approved_at = NOW(), active = TRUE, rejection_reason = NULL`,
		`approval_state IN ('pending', 'invited')`)
}

// MarkRejected moves a pending or invited user to rejected and deactivates it.
func (r *Repository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (User, error) {
	return r.transition(ctx, id, `
		approval_state = 'rejected', active = FALSE, rejection_reason = $2`,
		`approval_state IN ('pending', 'invited')`, reason)
}

// MarkDeactivated soft-deletes a user.
func (r *Repository) MarkDeactivated(ctx context.Context, id uuid.UUID, reason string) (User, error) {
	return r.transition(ctx, id, `
		active = FALSE, deactivated_at = NOW(), deactivation_reason = $2`, `TRUE`, reason)
}

// MarkReactivated restores an approved user.
func (r *Repository) MarkReactivated(ctx context.Context, id uuid.UUID) (User, error) {
	return r.transition(ctx, id, `
		active = TRUE, deactivated_at = NULL, deactivation_reason = NULL`, `approval_state = 'approved'`)
}

// MarkEmailConfirmed flags the email as confirmed.
func (r *Repository) MarkEmailConfirmed(ctx context.Context, id uuid.UUID) (User, error) {
	return r.transition(ctx, id, `email_confirmed = TRUE`, `TRUE`)
}

func (r *Repository) transition(ctx context.Context, id uuid.UUID, set, guard string, args ...any) (User, error) {
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $1 AND %s RETURNING %s`, set, guard, userColumns)
	user, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, append([]any{id}, args...)...))
	if db.IsNoRows(err) {
		return User{}, shared.Validationf("user %s does not exist or is not in a state that allows this change", id)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: transition: %w", err)
	}
	return user, nil
}

// Delete removes the user row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("user %s", id)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var state string
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.Email, &u.NationalID, &u.FullName,
		&u.Phone, &u.ResidenceMunicipality,
		&u.Credentials, &u.WorkHistory, &u.Availability, &u.ExtraQualifications,
		&state, &u.Active, &u.EmailConfirmed, &u.ApprovedAt, &u.RejectionReason,
		&u.DeactivatedAt, &u.DeactivationReason, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.ApprovalState = shared.ApprovalState(state)
	return u, nil
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		switch db.ConstraintName(err) {
		case "users_email_key":
			return shared.Conflictf("email already registered")
		case "users_national_id_key":
			return shared.Conflictf("national id already registered")
		case "users_external_id_key":
			return shared.Conflictf("external id already linked to another user")
		}
		return shared.Conflictf("user already exists")
	}
	return fmt.Errorf("users: write: %w", err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

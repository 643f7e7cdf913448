package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// scanUserRow scans a User from a single sql.Row, returning nil when the
// row does not exist.
func scanUserRow(row *sql.Row) (*models.User, error) {
	var u models.User
	var timezone, dependents sql.NullString
	var role string
	err := row.Scan(&u.ID, &u.Identity, &u.Name, &timezone, &role, &dependents, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user failed: %w", err)
	}
	u.Timezone = timezone.String
	u.Role = models.UserRole(role)
	u.Dependents = splitDependents(dependents.String)
	return &u, nil
}

// scanUser scans a User from sql.Rows.
func scanUser(rows *sql.Rows) (models.User, error) {
	var u models.User
	var timezone, dependents sql.NullString
	var role string
	err := rows.Scan(&u.ID, &u.Identity, &u.Name, &timezone, &role, &dependents, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, fmt.Errorf("scan user failed: %w", err)
	}
	u.Timezone = timezone.String
	u.Role = models.UserRole(role)
	u.Dependents = splitDependents(dependents.String)
	return u, nil
}

// scanAssessments scans all SymptomAssessment rows.
func scanAssessments(rows *sql.Rows) ([]models.SymptomAssessment, error) {
	var out []models.SymptomAssessment
	for rows.Next() {
		var a models.SymptomAssessment
		var severity sql.NullInt64
		var notes, summary sql.NullString
		var followUpAt sql.NullTime
		err := rows.Scan(&a.ID, &a.Identity, &a.Symptom, &severity, &notes, &summary,
			&a.Emergency, &a.Active, &followUpAt, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan assessment failed: %w", err)
		}
		a.Severity = int(severity.Int64)
		a.Notes = notes.String
		a.Summary = summary.String
		if followUpAt.Valid {
			a.FollowUpAt = followUpAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func splitDependents(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

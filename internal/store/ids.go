package store

import (
	"database/sql"
	"fmt"
	"regexp"
)

var workspaceRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateWorkspace checks the workspace id against the rule: opaque id,
// at most 128 alphanumeric + "-_" chars.
func ValidateWorkspace(workspace string) error {
	if !workspaceRe.MatchString(workspace) {
		return errInvalidInput("workspace must be 1-128 alphanumeric/-/_ characters")
	}
	return nil
}

// nextID allocates the next "<kind>-<n>" id for a workspace using a durable
// monotonic counter table, within the caller's transaction. The counter row
// holds the most recently allocated value; RETURNING hands it straight back
// whether the row was just inserted (allocated=1) or bumped (allocated=old+1).
func nextID(tx *sql.Tx, workspace, kind string) (string, int64, error) {
	row := tx.QueryRow(`
		INSERT INTO id_counters (workspace, kind, next_value) VALUES (?, ?, 1)
		ON CONFLICT(workspace, kind) DO UPDATE SET next_value = next_value + 1
		RETURNING next_value
	`, workspace, kind)
	var allocated int64
	if err := row.Scan(&allocated); err != nil {
		return "", 0, errIO(err)
	}
	return fmt.Sprintf("%s-%d", kind, allocated), allocated, nil
}

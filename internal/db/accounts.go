package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate row")

// AccountRow represents an account row retrieved from storage.
type AccountRow struct {
	ID           string
	Username     string
	Verifier     []byte
	Salt         []byte
	WrapAlg      string
	WrapNonce    []byte
	WrapTag      []byte
	WrappedKey   []byte
	RecordParams string
	MasterParams string
	CreatedAt    string
	UpdatedAt    string
}

const accountColumns = `id, username, verifier, salt, wrap_alg, wrap_nonce, wrap_tag, wrapped_key,
	record_params, master_params, created_at, updated_at`

func isUniqueViolation(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY
		if c := coded.Code(); c == 2067 || c == 1555 {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertAccount stores a new account row. It returns ErrDuplicate if the
// username or id is already taken.
func InsertAccount(d *DB, r AccountRow) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	_, err := d.sql.Exec(
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Username, r.Verifier, r.Salt, r.WrapAlg, r.WrapNonce, r.WrapTag, r.WrappedKey,
		r.RecordParams, r.MasterParams, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert account %q: %w", r.Username, ErrDuplicate)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccountByUsername returns the account for username or sql.ErrNoRows.
func GetAccountByUsername(d *DB, username string) (*AccountRow, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	var r AccountRow
	err := d.sql.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`,
		username,
	).Scan(
		&r.ID,
		&r.Username,
		&r.Verifier,
		&r.Salt,
		&r.WrapAlg,
		&r.WrapNonce,
		&r.WrapTag,
		&r.WrappedKey,
		&r.RecordParams,
		&r.MasterParams,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &r, nil
}

// UpdateAccountCredentials replaces the verifier, salt and wrapped key
// material of an account. It returns sql.ErrNoRows if the id is unknown.
func UpdateAccountCredentials(d *DB, r AccountRow) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	res, err := d.sql.Exec(
		`UPDATE accounts
		 SET verifier = ?, salt = ?, wrap_alg = ?, wrap_nonce = ?, wrap_tag = ?, wrapped_key = ?,
		     record_params = ?, master_params = ?, updated_at = ?
		 WHERE id = ?`,
		r.Verifier, r.Salt, r.WrapAlg, r.WrapNonce, r.WrapTag, r.WrappedKey,
		r.RecordParams, r.MasterParams, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update account credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUsernames returns every username, sorted.
func ListUsernames(d *DB) ([]string, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	rows, err := d.sql.Query(`SELECT username FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("select usernames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return out, nil
}

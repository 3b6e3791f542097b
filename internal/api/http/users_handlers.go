package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type userRow struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`               // usually "student"
	Password    string `json:"password,omitempty"` // plaintext accepted on upsert only
}

// POST /users/bulk
// JSON array of users, inserted or updated by username.
func BulkUpsertUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []userRow
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, "expected JSON array", http.StatusBadRequest)
			return
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"upserted": 0})
			return
		}
		n, err := upsertUsers(r.Context(), db, rows)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"upserted": n})
	}
}

func upsertUsers(ctx context.Context, db *sql.DB, rows []userRow) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := 0
	for _, u := range rows {
		if u.Username == "" {
			continue
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Role == "" {
			u.Role = "student"
		}
		hash := ""
		if u.Password != "" {
			b, err := bcrypt.GenerateFromPassword([]byte(u.Password), 12)
			if err != nil {
				return n, err
			}
			hash = string(b)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO users (id,username,display_name,role,password_hash)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (username) DO UPDATE SET
				display_name=EXCLUDED.display_name,
				role=EXCLUDED.role,
				password_hash=CASE WHEN EXCLUDED.password_hash='' THEN users.password_hash ELSE EXCLUDED.password_hash END`,
			u.ID, u.Username, u.DisplayName, u.Role, hash)
		if err != nil {
			return n, err
		}
		n++
	}
	return n, tx.Commit()
}

// GET /users?role=student
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.URL.Query().Get("role")
		q := `SELECT id,username,display_name,role FROM users`
		var args []any
		if role != "" {
			q += ` WHERE role=$1`
			args = append(args, role)
		}
		q += ` ORDER BY username`
		rows, err := db.QueryContext(r.Context(), q, args...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		var out []userRow
		for rows.Next() {
			var u userRow
			if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out = append(out, u)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

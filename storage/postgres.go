package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"taskboard-api/domain"
)

// Schema creates the tables used by Postgres. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            text PRIMARY KEY,
	name          text NOT NULL,
	email         text NOT NULL,
	password_hash text NOT NULL,
	created_at    timestamptz NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email));

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      text PRIMARY KEY,
	user_id    text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id);

CREATE TABLE IF NOT EXISTS lists (
	id         text PRIMARY KEY,
	user_id    text NOT NULL,
	title      text NOT NULL,
	position   double precision NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	version    bigint NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS lists_user_position_idx ON lists (user_id, position);

CREATE TABLE IF NOT EXISTS tasks (
	id          text PRIMARY KEY,
	user_id     text NOT NULL,
	list_id     text NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	title       text NOT NULL,
	description text,
	status      text NOT NULL DEFAULT 'todo',
	priority    integer NOT NULL DEFAULT 3,
	tags        text[] NOT NULL DEFAULT '{}',
	due_date    timestamptz,
	position    double precision NOT NULL,
	created_at  timestamptz NOT NULL,
	updated_at  timestamptz NOT NULL,
	version     bigint NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS tasks_list_position_idx ON tasks (list_id, position);
CREATE INDEX IF NOT EXISTS tasks_user_idx ON tasks (user_id);
`

const uniqueViolation = "23505"

// Postgres is a Store on PostgreSQL. Versions are integer columns bumped on
// every write.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database at url.
func OpenPostgres(url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) CreateUser(ctx context.Context, u domain.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ErrEmailTaken
	}
	return err
}

const userColumns = `id, name, email, password_hash, created_at`

func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return u, err
}

func (p *Postgres) SaveRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		t.Token, t.UserID, t.ExpiresAt)
	return err
}

func (p *Postgres) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := p.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.Token, &t.UserID, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return t, err
}

func (p *Postgres) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return err
}

func (p *Postgres) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return err
}

const listColumns = `id, user_id, title, position, created_at, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanList(s scanner) (domain.List, error) {
	var (
		l       domain.List
		version int64
	)
	if err := s.Scan(&l.ID, &l.UserID, &l.Title, &l.Position, &l.CreatedAt, &l.UpdatedAt, &version); err != nil {
		return domain.List{}, err
	}
	l.Version = strconv.FormatInt(version, 10)
	return l, nil
}

func (p *Postgres) GetList(ctx context.Context, userID, listID string) (domain.List, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listColumns+` FROM lists WHERE id = $1 AND user_id = $2`, listID, userID)
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.List{}, domain.ErrNotFound
	}
	return l, err
}

func (p *Postgres) ReadLists(ctx context.Context, userID string) ([]domain.List, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+listColumns+` FROM lists WHERE user_id = $1 ORDER BY position, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lists := []domain.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func (p *Postgres) UpdateList(ctx context.Context, l domain.List) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE lists SET title = $1, updated_at = $2, version = version + 1
		 WHERE id = $3 AND user_id = $4 AND ($5 = '' OR version::text = $5)`,
		l.Title, l.UpdatedAt, l.ID, l.UserID, l.Version)
	if err != nil {
		return err
	}
	return p.checkWrite(ctx, res, "lists", l.ID, l.UserID)
}

func (p *Postgres) DeleteList(ctx context.Context, userID, listID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM lists WHERE id = $1 AND user_id = $2`, listID, userID)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

const taskColumns = `id, user_id, list_id, title, description, status, priority, tags, due_date, position, created_at, updated_at, version`

func scanTask(s scanner) (domain.Task, error) {
	var (
		t           domain.Task
		description sql.NullString
		due         sql.NullTime
		status      string
		tags        pq.StringArray
		version     int64
	)
	err := s.Scan(&t.ID, &t.UserID, &t.ListID, &t.Title, &description, &status, &t.Priority,
		&tags, &due, &t.Position, &t.CreatedAt, &t.UpdatedAt, &version)
	if err != nil {
		return domain.Task{}, err
	}
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	t.Status = domain.Status(status)
	t.Tags = []string(tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	t.Version = strconv.FormatInt(version, 10)
	return t, nil
}

func (p *Postgres) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (p *Postgres) ReadTasks(ctx context.Context, userID, listID string) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if listID != "" {
		q += ` AND list_id = $2`
		args = append(args, listID)
	}
	rows, err := p.db.QueryContext(ctx, q+` ORDER BY position, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4, tags = $5,
		 due_date = $6, updated_at = $7, version = version + 1
		 WHERE id = $8 AND user_id = $9 AND ($10 = '' OR version::text = $10)`,
		t.Title, nullString(t.Description), string(t.Status), t.Priority, pq.Array(nonNil(t.Tags)),
		nullTime(t.DueDate), t.UpdatedAt, t.ID, t.UserID, t.Version)
	if err != nil {
		return err
	}
	return p.checkWrite(ctx, res, "tasks", t.ID, t.UserID)
}

func (p *Postgres) DeleteTask(ctx context.Context, userID, taskID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

// Apply runs the batch in one transaction. A stale version rolls back
// every statement already executed.
func (p *Postgres) Apply(ctx context.Context, b domain.Batch) (err error) {
	if b.Kind != domain.KindList && b.Kind != domain.KindTask {
		return fmt.Errorf("unknown batch kind %q", b.Kind)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if b.NewList != nil {
		l := b.NewList
		if l.UserID != b.UserID {
			return fmt.Errorf("new list does not belong to batch")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO lists (id, user_id, title, position, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, l.UserID, l.Title, l.Position, l.CreatedAt, l.UpdatedAt); err != nil {
			return mapPostgresError(err)
		}
	}
	if b.NewTask != nil {
		t := b.NewTask
		if t.UserID != b.UserID {
			return fmt.Errorf("new task does not belong to batch")
		}
		if err = ownsList(ctx, tx, b.UserID, t.ListID); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, user_id, list_id, title, description, status, priority, tags, due_date, position, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.ID, t.UserID, t.ListID, t.Title, nullString(t.Description), string(t.Status), t.Priority,
			pq.Array(nonNil(t.Tags)), nullTime(t.DueDate), t.Position, t.CreatedAt, t.UpdatedAt); err != nil {
			return mapPostgresError(err)
		}
	}
	for _, pl := range b.Placements {
		if err = p.place(ctx, tx, b, pl); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) place(ctx context.Context, tx *sql.Tx, b domain.Batch, pl domain.Placement) error {
	var (
		res sql.Result
		err error
	)
	table := "lists"
	switch {
	case b.Kind == domain.KindList:
		res, err = tx.ExecContext(ctx,
			`UPDATE lists SET position = $1, version = version + 1
			 WHERE id = $2 AND user_id = $3 AND ($4 = '' OR version::text = $4)`,
			pl.Position, pl.ID, b.UserID, pl.Version)
	case pl.ListID != "":
		table = "tasks"
		if err := ownsList(ctx, tx, b.UserID, pl.ListID); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET position = $1, list_id = $2, version = version + 1
			 WHERE id = $3 AND user_id = $4 AND ($5 = '' OR version::text = $5)`,
			pl.Position, pl.ListID, pl.ID, b.UserID, pl.Version)
	default:
		table = "tasks"
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET position = $1, version = version + 1
			 WHERE id = $2 AND user_id = $3 AND ($4 = '' OR version::text = $4)`,
			pl.Position, pl.ID, b.UserID, pl.Version)
	}
	if err != nil {
		return err
	}
	return checkWrite(ctx, tx, res, table, pl.ID, b.UserID)
}

func ownsList(ctx context.Context, tx *sql.Tx, userID, listID string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM lists WHERE id = $1 AND user_id = $2 FOR SHARE`, listID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) checkWrite(ctx context.Context, res sql.Result, table, id, userID string) error {
	return checkWrite(ctx, p.db, res, table, id, userID)
}

// checkWrite tells a missing row from a stale version when an update
// touched nothing.
func checkWrite(ctx context.Context, q queryer, res sql.Result, table, id, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s %s changed", domain.ErrConflict, strings.TrimSuffix(table, "s"), id)
}

func rowsOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pqErr.Constraint)
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Package persistence is the relational store for users, repos and builds.
// The database protocol selects the driver: "sqlite" uses the embedded
// engine, "postgres" the pgx stdlib driver. Schema management runs through
// embedded goose migrations at open time.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/zeus-ci/zeus/internal/models"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// gooseMu serializes the package-global goose configuration across
// concurrent Opens (tests open many stores).
var gooseMu sync.Mutex

// Store wraps the SQL database. Every operation scopes its own query;
// there is no long-lived session state.
type Store struct {
	db *sql.DB
}

// Open connects per the configured protocol and runs pending migrations.
func Open(protocol, args string) (*Store, error) {
	var driver, dialect, migrationDir string
	switch protocol {
	case "sqlite", "sqlite3":
		driver, dialect, migrationDir = "sqlite", "sqlite3", "migrations/sqlite"
	case "postgres", "postgresql":
		driver, dialect, migrationDir = "pgx", "postgres", "migrations/postgres"
	default:
		return nil, fmt.Errorf("unsupported database protocol %q", protocol)
	}

	db, err := sql.Open(driver, args)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		// modernc.org/sqlite has no default busy timeout, so concurrent
		// writers from the pool immediately return SQLITE_BUSY; serialize
		// on a single connection and wait out locks instead.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, migrationDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser returns the user, creating the row with defaults on first
// contact.
func (s *Store) EnsureUser(ctx context.Context, username string) (models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, container_limit) VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING`,
		username, models.DefaultContainerLimit)
	if err != nil {
		return models.User{}, fmt.Errorf("ensure user %s: %w", username, err)
	}
	return s.GetUser(ctx, username)
}

// GetUser looks a user up by name.
func (s *Store) GetUser(ctx context.Context, username string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, token, container_limit, share_env_with_forks, share_env_with_branches
		FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, token, container_limit, share_env_with_forks, share_env_with_branches
		FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserToken stores the user's SCM access token.
func (s *Store) SetUserToken(ctx context.Context, username, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET token = $1 WHERE username = $2`, token, username)
	if err != nil {
		return fmt.Errorf("set token for %s: %w", username, err)
	}
	return requireAffected(res, username)
}

// ContainerLimit resolves the user's authoritative container quota.
func (s *Store) ContainerLimit(ctx context.Context, username string) (int, error) {
	var limit int
	err := s.db.QueryRowContext(ctx,
		`SELECT container_limit FROM users WHERE username = $1`, username).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("container limit for %s: %w", username, err)
	}
	return limit, nil
}

// EnsureRepo returns the repo, creating the row on first contact.
func (s *Store) EnsureRepo(ctx context.Context, name, username, scm string) (models.Repo, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (name, scm, username) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`, name, scm, username)
	if err != nil {
		return models.Repo{}, fmt.Errorf("ensure repo %s: %w", name, err)
	}
	return s.GetRepo(ctx, name)
}

// GetRepo looks a repo up by slab.
func (s *Store) GetRepo(ctx context.Context, name string) (models.Repo, error) {
	var (
		repo    models.Repo
		rawVars string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, scm, username, env_vars FROM repos WHERE name = $1`, name).
		Scan(&repo.Name, &repo.SCM, &repo.Username, &rawVars)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Repo{}, fmt.Errorf("repo %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return models.Repo{}, fmt.Errorf("get repo %s: %w", name, err)
	}

	repo.EnvVars, err = decodeEnvVars(rawVars)
	if err != nil {
		return models.Repo{}, fmt.Errorf("repo %s: %w", name, err)
	}
	return repo, nil
}

// ListRepos returns every repo ordered by name.
func (s *Store) ListRepos(ctx context.Context) ([]models.Repo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM repos ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	repos := make([]models.Repo, 0, len(names))
	for _, name := range names {
		repo, err := s.GetRepo(ctx, name)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// AddRepoEnvVar appends one binding to the repo's ordered environment.
// Duplicate keys are allowed.
func (s *Store) AddRepoEnvVar(ctx context.Context, name, key, value string) error {
	repo, err := s.GetRepo(ctx, name)
	if err != nil {
		return err
	}
	repo.EnvVars = append(repo.EnvVars, models.EnvVar{Key: key, Value: value})

	encoded, err := encodeEnvVars(repo.EnvVars)
	if err != nil {
		return fmt.Errorf("repo %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE repos SET env_vars = $1 WHERE name = $2`, encoded, name)
	if err != nil {
		return fmt.Errorf("update env vars of %s: %w", name, err)
	}
	return nil
}

// CreateBuild inserts the build and fills in its assigned id.
func (s *Store) CreateBuild(ctx context.Context, b *models.Build) error {
	payload := string(b.Payload)
	if payload == "" {
		payload = "{}"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO builds (repo_name, ref, commit_sha, payload, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.RepoName, b.Ref, b.Commit, payload, b.Status.String()).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("create build for %s: %w", b.RepoName, err)
	}
	return nil
}

// GetBuild looks a build up by id.
func (s *Store) GetBuild(ctx context.Context, id int64) (models.Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_name, ref, commit_sha, payload, status
		FROM builds WHERE id = $1`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Build{}, fmt.Errorf("build %d: %w", id, ErrNotFound)
	}
	return b, err
}

// ListBuilds returns every build, newest last.
func (s *Store) ListBuilds(ctx context.Context) ([]models.Build, error) {
	return s.queryBuilds(ctx, `
		SELECT id, repo_name, ref, commit_sha, payload, status
		FROM builds ORDER BY id`)
}

// ListBuildsByStatus returns builds in the given state, oldest first.
func (s *Store) ListBuildsByStatus(ctx context.Context, status models.Status) ([]models.Build, error) {
	return s.queryBuilds(ctx, `
		SELECT id, repo_name, ref, commit_sha, payload, status
		FROM builds WHERE status = $1 ORDER BY id`, status.String())
}

// UpdateBuildStatus transitions the build and commits immediately so the
// coordinator's poller observes progress.
func (s *Store) UpdateBuildStatus(ctx context.Context, id int64, status models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE builds SET status = $1 WHERE id = $2`, status.String(), id)
	if err != nil {
		return fmt.Errorf("update build %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("build %d", id))
}

func (s *Store) queryBuilds(ctx context.Context, query string, args ...any) ([]models.Build, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var (
		u              models.User
		forks, branches int
	)
	err := row.Scan(&u.Username, &u.Token, &u.ContainerLimit, &forks, &branches)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.ShareEnvWithForks = forks != 0
	u.ShareEnvWithBranches = branches != 0
	return u, nil
}

func scanBuild(row scanner) (models.Build, error) {
	var (
		b       models.Build
		payload string
		status  string
	)
	if err := row.Scan(&b.ID, &b.RepoName, &b.Ref, &b.Commit, &payload, &status); err != nil {
		return models.Build{}, err
	}
	b.Payload = json.RawMessage(payload)

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.Build{}, fmt.Errorf("build %d: %w", b.ID, err)
	}
	b.Status = parsed
	return b, nil
}

// decodeEnvVars reads the persisted form: an ordered JSON array of
// single-pair objects.
func decodeEnvVars(raw string) ([]models.EnvVar, error) {
	if raw == "" {
		return nil, nil
	}
	var entries []map[string]string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode env vars: %w", err)
	}
	var vars []models.EnvVar
	for _, entry := range entries {
		for k, v := range entry {
			vars = append(vars, models.EnvVar{Key: k, Value: v})
		}
	}
	return vars, nil
}

func encodeEnvVars(vars []models.EnvVar) (string, error) {
	entries := make([]map[string]string, 0, len(vars))
	for _, v := range vars {
		entries = append(entries, map[string]string{v.Key: v.Value})
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode env vars: %w", err)
	}
	return string(encoded), nil
}

func requireAffected(res sql.Result, subject string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}
	return nil
}

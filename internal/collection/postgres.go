package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Open открывает пул и проверяет соединение.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

// safeName: имя объекта БД из имени коллекции.
func safeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	t := b.String()
	if _, ok := reserved[t]; ok || t == "" {
		t = "c_" + t
	}
	return t
}

// GenerateDDL: таблица записей и частичный индекс на каждую известную коллекцию.
// Ключи задают порядок применения.
func GenerateDDL(table string, collections []string) map[string]string {
	out := map[string]string{
		"000_records": fmt.Sprintf(`create table if not exists %s (
  "collection" text not null,
  "id" text not null,
  "version" bigint not null,
  "created_at" timestamp with time zone not null,
  "updated_at" timestamp with time zone not null,
  "deleted" boolean not null default false,
  "data" jsonb not null default '{}'::jsonb,
  primary key ("collection", "id")
);`, sqlIdent(table)),
	}
	for _, c := range collections {
		name := safeName(c)
		out["100_"+name] = fmt.Sprintf(
			"create index if not exists %s on %s(%s, %s) where not %s and %s = '%s';",
			sqlIdent(table+"_"+name+"_live"), sqlIdent(table),
			sqlIdent("collection"), sqlIdent("created_at"), sqlIdent("deleted"),
			sqlIdent("collection"), strings.ReplaceAll(c, "'", "''"))
	}
	return out
}

// ApplyDDL выполняет DDL по порядку ключей. duplicate_object (42710) пропускается.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *zap.Logger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.Info("DDL skipped (already exists)", zap.String("key", k), zap.String("message", pgErr.Message))
				continue
			}
			e := strings.ToLower(err.Error())
			if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
				log.Info("DDL skipped (already exists)", zap.String("key", k), zap.Error(err))
				continue
			}
			return fmt.Errorf("DDL apply failed (%s): %w", k, err)
		}
	}
	return nil
}

// PostgresStore: все коллекции в одной таблице, данные в jsonb.
type PostgresStore struct {
	db    *sql.DB
	table string
	ids   *idSource
}

// NewPostgresStore создаёт таблицу (если нет) и возвращает хранилище.
func NewPostgresStore(ctx context.Context, db *sql.DB, collections []string, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	const table = "console_records"
	if err := ApplyDDL(ctx, db, GenerateDDL(table, collections), log); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, table: sqlIdent(table), ids: newIDSource()}, nil
}

const recordColumns = `"id", "version", "created_at", "updated_at", "deleted", "data"`

type scanner interface{ Scan(dest ...any) error }

func scanRecord(row scanner) (*Record, error) {
	var (
		r   Record
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.Deleted, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+recordColumns+` from `+s.table+
			` where "collection" = $1 and not "deleted" order by "created_at", "id"`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from `+s.table+
			` where "collection" = $1 and "id" = $2 and not "deleted"`, collection, id))
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (*Record, error) {
	id := s.ids.next()
	if v, ok := data["id"].(string); ok && v != "" {
		id = v
	}
	raw, err := json.Marshal(stripSystem(data))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return scanRecord(s.db.QueryRowContext(ctx,
		`insert into `+s.table+` ("collection", "id", "version", "created_at", "updated_at", "data")
values ($1, $2, 1, $3, $3, $4::jsonb) returning `+recordColumns,
		collection, id, now, string(raw)))
}

// write выполняет update ... returning; пустой результат различает «нет записи» и «не та версия».
func (s *PostgresStore) write(ctx context.Context, collection, id string, expected int64, set string, arg any) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`update `+s.table+` set `+set+`, "version" = "version" + 1, "updated_at" = $4
where "collection" = $1 and "id" = $2 and not "deleted" and ($3::bigint = 0 or "version" = $3::bigint)
returning `+recordColumns,
		collection, id, expected, time.Now().UTC(), arg))
	if !errors.Is(err, ErrNotFound) || expected == 0 {
		return rec, err
	}
	if _, gerr := s.Get(ctx, collection, id); gerr == nil {
		return nil, ErrVersionConflict
	}
	return nil, ErrNotFound
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, data map[string]any, expected int64) (*Record, error) {
	raw, err := json.Marshal(stripSystem(data))
	if err != nil {
		return nil, err
	}
	return s.write(ctx, collection, id, expected, `"data" = $5::jsonb`, string(raw))
}

// Patch сливает ключи верхнего уровня (jsonb ||).
func (s *PostgresStore) Patch(ctx context.Context, collection, id string, patch map[string]any, expected int64) (*Record, error) {
	raw, err := json.Marshal(stripSystem(patch))
	if err != nil {
		return nil, err
	}
	return s.write(ctx, collection, id, expected, `"data" = "data" || $5::jsonb`, string(raw))
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update `+s.table+` set "deleted" = true, "version" = "version" + 1, "updated_at" = $3
where "collection" = $1 and "id" = $2 and not "deleted"`, collection, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Restore(ctx context.Context, collection, id string) (*Record, error) {
	_, err := s.db.ExecContext(ctx,
		`update `+s.table+` set "deleted" = false, "version" = "version" + 1, "updated_at" = $3
where "collection" = $1 and "id" = $2 and "deleted"`, collection, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, collection, id)
}

func (s *PostgresStore) Close() error { return s.db.Close() }

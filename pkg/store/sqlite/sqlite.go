// Package sqlite provides SQLite persistence for doccache using GORM.
// Each collection is a table with key, value and expires columns.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

const deleteBatch = 500

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Database is a SQLite database file.
type Database struct {
	db   *gorm.DB
	name string
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path, name string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)
	return &Database{db: db, name: name}, nil
}

// Connector returns a collection.Connector opening "<dir>/<database>.db",
// or a fresh in-memory database per name when dir is Memory.
func Connector(dir string) collection.Connector {
	return func(_ context.Context, name string) (collection.Database, error) {
		if dir == Memory {
			return Open(Memory, name)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		return Open(filepath.Join(dir, name+".db"), name)
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// CreateCollection creates the table for name if it does not exist.
func (d *Database) CreateCollection(ctx context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if !tableName.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q: want letters, digits and underscores", name)
	}
	if opts.Capped {
		slog.Warn("sqlite has no capped tables, creating an uncapped collection", "table", name)
	}
	if err := d.db.WithContext(ctx).Table(name).AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}
	return &Collection{db: d.db, table: name}, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// row is the table schema. Expires is unix milliseconds.
type row struct {
	Key     string `gorm:"column:key;primaryKey"`
	Value   string `gorm:"column:value;not null"`
	Expires int64  `gorm:"column:expires;not null"`
}

// Collection is one table.
type Collection struct {
	db    *gorm.DB
	table string
}

// Name returns the table name.
func (c *Collection) Name() string { return c.table }

// conditions translates the SQL-expressible parts of f. Patterns are applied in Go.
func conditions(f collection.Filter) []clause.Expression {
	var exprs []clause.Expression
	if f.Key != "" {
		exprs = append(exprs, clause.Eq{Column: clause.Column{Name: "key"}, Value: f.Key})
	}
	if !f.ExpiresAfter.IsZero() {
		exprs = append(exprs, clause.Gt{Column: clause.Column{Name: "expires"}, Value: f.ExpiresAfter.UnixMilli()})
	}
	if !f.ExpiredBy.IsZero() {
		exprs = append(exprs, clause.Lte{Column: clause.Column{Name: "expires"}, Value: f.ExpiredBy.UnixMilli()})
	}
	return exprs
}

func (c *Collection) query(ctx context.Context, f collection.Filter) *gorm.DB {
	tx := c.db.WithContext(ctx).Table(c.table)
	if exprs := conditions(f); len(exprs) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: exprs})
	}
	return tx
}

func decode(r row) (collection.Record, error) {
	v, err := collection.DecodeValue([]byte(r.Value))
	if err != nil {
		return collection.Record{}, err
	}
	return collection.Record{Key: r.Key, Value: v, Expires: time.UnixMilli(r.Expires)}, nil
}

// FindOne returns one record matching f.
func (c *Collection) FindOne(ctx context.Context, f collection.Filter) (collection.Record, bool, error) {
	tx := c.query(ctx, f)
	if f.Pattern == nil {
		tx = tx.Limit(1)
	}
	var rows []row
	if err := tx.Find(&rows).Error; err != nil {
		return collection.Record{}, false, fmt.Errorf("select %s: %w", c.table, err)
	}
	for _, r := range rows {
		if !f.MatchKey(r.Key) {
			continue
		}
		rec, err := decode(r)
		if err != nil {
			return collection.Record{}, false, err
		}
		return rec, true, nil
	}
	return collection.Record{}, false, nil
}

// Upsert inserts r or replaces the row with the same key.
func (c *Collection) Upsert(ctx context.Context, r collection.Record) error {
	if r.Key == "" {
		return errors.New("key cannot be empty")
	}
	data, err := collection.EncodeValue(r.Value)
	if err != nil {
		return err
	}
	err = c.db.WithContext(ctx).Table(c.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires"}),
	}).Create(&row{Key: r.Key, Value: string(data), Expires: r.Expires.UnixMilli()}).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", c.table, err)
	}
	return nil
}

// Remove deletes every row matching f and returns how many were removed.
func (c *Collection) Remove(ctx context.Context, f collection.Filter) (int, error) {
	if f.Pattern == nil {
		tx := c.query(ctx, f)
		if len(conditions(f)) == 0 {
			tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		}
		res := tx.Delete(&row{})
		if res.Error != nil {
			return 0, fmt.Errorf("delete from %s: %w", c.table, res.Error)
		}
		return int(res.RowsAffected), nil
	}

	var keys []string
	if err := c.query(ctx, f).Pluck("key", &keys).Error; err != nil {
		return 0, fmt.Errorf("select keys from %s: %w", c.table, err)
	}
	var matched []string
	for _, k := range keys {
		if f.MatchKey(k) {
			matched = append(matched, k)
		}
	}

	n := 0
	for start := 0; start < len(matched); start += deleteBatch {
		end := min(start+deleteBatch, len(matched))
		// Expiry conditions are repeated so rows rewritten since the select are kept.
		res := c.query(ctx, f).
			Clauses(clause.Where{Exprs: []clause.Expression{
				clause.IN{Column: clause.Column{Name: "key"}, Values: toAny(matched[start:end])},
			}}).
			Delete(&row{})
		if res.Error != nil {
			return n, fmt.Errorf("delete from %s: %w", c.table, res.Error)
		}
		n += int(res.RowsAffected)
	}
	return n, nil
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

// Count returns the number of rows.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int64
	if err := c.db.WithContext(ctx).Table(c.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	return int(n), nil
}

// CreateIndex creates the (key ASC, expires DESC) index.
func (c *Collection) CreateIndex(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_key_expires" ON "%s" ("key" ASC, "expires" DESC)`, c.table, c.table)
	if err := c.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("create index on %s: %w", c.table, err)
	}
	return nil
}

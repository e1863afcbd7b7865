// Package valkey provides Valkey/Redis persistence for doccache.
//
// A record lives under the string key "<database>:<collection>:<key>" and holds
// the (optionally compressed) JSON envelope of its value and expiration.
// Expiration is enforced by the store, not by Valkey TTLs, so expired records
// stay visible to CleanExpired.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
	"github.com/valkey-io/valkey-go"
)

const (
	maxKeyLength = 512 // Maximum key length for Valkey
	scanCount    = 100
)

// DefaultAddr is used when no address is given.
const DefaultAddr = "localhost:6379"

// deleteUnchanged deletes KEYS[1] only if it still holds ARGV[1].
var deleteUnchanged = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Database is a Valkey keyspace prefix.
type Database struct {
	client     valkey.Client
	name       string
	compressor compress.Compressor
}

// Connect creates a client for addr and verifies it with PING.
// addr should be in the format "host:port" (e.g., "localhost:6379").
// Optional compressor enables compression (default: no compression).
func Connect(ctx context.Context, addr, name string, c ...compress.Compressor) (*Database, error) {
	if addr == "" {
		addr = DefaultAddr
	}

	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w", err)
	}

	return New(client, name, c...), nil
}

// Connector returns a collection.Connector that connects to addr once per database name.
func Connector(addr string, c ...compress.Compressor) collection.Connector {
	return func(ctx context.Context, name string) (collection.Database, error) {
		return Connect(ctx, addr, name, c...)
	}
}

// New wraps an existing client.
func New(client valkey.Client, name string, c ...compress.Compressor) *Database {
	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}
	return &Database{client: client, name: name, compressor: comp}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// CreateCollection returns the collection stored under the "<database>:<name>:" prefix.
func (d *Database) CreateCollection(_ context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if name == "" {
		return nil, errors.New("collection name cannot be empty")
	}
	if opts.Capped {
		slog.Warn("valkey has no capped collections, creating an uncapped collection", "collection", name)
	}
	return &Collection{
		client:     d.client,
		name:       name,
		prefix:     d.name + ":" + name + ":",
		compressor: d.compressor,
	}, nil
}

// Close releases Valkey client resources.
func (d *Database) Close() error {
	d.client.Close()
	return nil
}

// Collection stores records as Valkey strings sharing a key prefix.
type Collection struct {
	client     valkey.Client
	name       string
	prefix     string
	compressor compress.Compressor

	loaded func() // test hook, runs between the read and the delete in Remove
}

// stored is a decoded record with the bytes it was decoded from.
type stored struct {
	rec  collection.Record
	data []byte
}

// envelope is the stored form of a record.
type envelope struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires"` // unix milliseconds
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) makeKey(key string) string {
	return c.prefix + key
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(key), maxKeyLength)
	}
	return nil
}

// globEscaper escapes SCAN MATCH metacharacters.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (c *Collection) encode(r collection.Record) ([]byte, error) {
	value, err := collection.EncodeValue(r.Value)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(envelope{Value: value, Expires: r.Expires.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	data, err := c.compressor.Encode(jsonData)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return data, nil
}

func (c *Collection) decode(key string, data []byte) (collection.Record, error) {
	jsonData, err := c.compressor.Decode(data)
	if err != nil {
		return collection.Record{}, fmt.Errorf("decompress: %w", err)
	}
	var e envelope
	if err := json.Unmarshal(jsonData, &e); err != nil {
		return collection.Record{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	v, err := collection.DecodeValue(e.Value)
	if err != nil {
		return collection.Record{}, err
	}
	return collection.Record{Key: key, Value: v, Expires: time.UnixMilli(e.Expires)}, nil
}

// scan returns the record keys (without prefix) in the collection.
func (c *Collection) scan(ctx context.Context) ([]string, error) {
	var keys []string
	pat := globEscaper.Replace(c.prefix) + "*"
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return keys, ctx.Err()
		default:
		}

		scan, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cur).Match(pat).Count(scanCount).Build()).AsScanEntry()
		if err != nil {
			return keys, fmt.Errorf("scan keys: %w", err)
		}
		for _, k := range scan.Elements {
			keys = append(keys, strings.TrimPrefix(k, c.prefix))
		}

		cur = scan.Cursor
		if cur == 0 {
			break
		}
	}
	return keys, nil
}

// candidates lists the record keys satisfying the key constraints of f.
func (c *Collection) candidates(ctx context.Context, f collection.Filter) ([]string, error) {
	if f.Key != "" {
		if !f.MatchKey(f.Key) {
			return nil, nil
		}
		return []string{f.Key}, nil
	}
	all, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	if f.Pattern == nil {
		return all, nil
	}
	var keys []string
	for _, k := range all {
		if f.MatchKey(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// load fetches keys in one pipeline and returns the records matching f.
func (c *Collection) load(ctx context.Context, keys []string, f collection.Filter) ([]stored, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]valkey.Completed, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, c.client.B().Get().Key(c.makeKey(k)).Build())
	}

	var out []stored
	for i, resp := range c.client.DoMulti(ctx, cmds...) {
		data, err := resp.AsBytes()
		if err != nil {
			if valkey.IsValkeyNil(err) {
				continue
			}
			return nil, fmt.Errorf("valkey get: %w", err)
		}
		rec, err := c.decode(keys[i], data)
		if err != nil {
			return nil, err
		}
		if f.Match(rec) {
			out = append(out, stored{rec: rec, data: data})
		}
	}
	return out, nil
}

// FindOne returns one record matching f.
func (c *Collection) FindOne(ctx context.Context, f collection.Filter) (collection.Record, bool, error) {
	keys, err := c.candidates(ctx, f)
	if err != nil {
		return collection.Record{}, false, err
	}
	found, err := c.load(ctx, keys, f)
	if err != nil || len(found) == 0 {
		return collection.Record{}, false, err
	}
	return found[0].rec, true, nil
}

// Upsert saves r, replacing any value stored under the same key.
func (c *Collection) Upsert(ctx context.Context, r collection.Record) error {
	if err := validateKey(r.Key); err != nil {
		return err
	}
	data, err := c.encode(r)
	if err != nil {
		return err
	}
	if err := c.client.Do(ctx, c.client.B().Set().Key(c.makeKey(r.Key)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Remove deletes every record matching f and returns how many were removed.
// Records selected by expiry are deleted only if unchanged since they were read,
// so a concurrent write that refreshes one is never lost.
func (c *Collection) Remove(ctx context.Context, f collection.Filter) (int, error) {
	keys, err := c.candidates(ctx, f)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if !f.HasExpiry() {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = c.makeKey(k)
		}
		n, err := c.client.Do(ctx, c.client.B().Del().Key(full...).Build()).AsInt64()
		if err != nil {
			return 0, fmt.Errorf("valkey delete: %w", err)
		}
		return int(n), nil
	}

	found, err := c.load(ctx, keys, f)
	if err != nil || len(found) == 0 {
		return 0, err
	}
	if c.loaded != nil {
		c.loaded()
	}

	execs := make([]valkey.LuaExec, len(found))
	for i, s := range found {
		execs[i] = valkey.LuaExec{Keys: []string{c.makeKey(s.rec.Key)}, Args: []string{string(s.data)}}
	}
	n := 0
	for _, resp := range deleteUnchanged.ExecMulti(ctx, c.client, execs...) {
		d, err := resp.AsInt64()
		if err != nil {
			return n, fmt.Errorf("valkey delete: %w", err)
		}
		n += int(d)
	}
	return n, nil
}

// Count returns the number of keys with this collection's prefix.
func (c *Collection) Count(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx)
	return len(keys), err
}

// CreateIndex is a no-op: Valkey looks records up by key directly.
func (*Collection) CreateIndex(context.Context) error {
	return nil
}

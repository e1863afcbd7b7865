package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/doccache"
	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/cloudrun"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
	"github.com/codeGROOVE-dev/doccache/pkg/store/datastore"
	"github.com/codeGROOVE-dev/doccache/pkg/store/localfs"
	"github.com/codeGROOVE-dev/doccache/pkg/store/memory"
	"github.com/codeGROOVE-dev/doccache/pkg/store/mongo"
	"github.com/codeGROOVE-dev/doccache/pkg/store/sqlite"
	"github.com/codeGROOVE-dev/doccache/pkg/store/valkey"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds the state shared by the subcommands of one invocation.
type app struct {
	v     *viper.Viper
	store *doccache.Store
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "doccache",
		Short: "inspect and maintain an expiring document cache",
		Long: `doccache reads, writes and cleans the records of a doccache store.

Records live in a collection of a backing database; expired records are
ignored by reads and removed by "doccache clean".`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.String("backend", "mongo", wrapString("backing store (memory, mongo, sqlite, localfs, datastore, valkey, cloudrun)"))
	flags.String("uri", doccache.DefaultMongoURI, wrapString("MongoDB connection URI"))
	flags.String("addr", valkey.DefaultAddr, wrapString("Valkey address (host:port)"))
	flags.String("path", "", wrapString("base directory for sqlite, localfs and cloudrun (sqlite: current directory, localfs: user cache directory)"))
	flags.String("database", "", wrapString("database name (default: the collection name)"))
	flags.String("collection", doccache.DefaultCollectionName, wrapString("collection name"))
	flags.String("namespace", "", wrapString("namespace prefixed to every key"))
	flags.String("compress", "none", wrapString("value compression for datastore, valkey and localfs (none, s2, zstd, lz4)"))
	flags.Duration("expires-in", doccache.DefaultExpiresIn, wrapString("default expiration for written records"))
	flags.Int64("capped-size", 0, wrapString("create the collection capped to this many bytes (0: uncapped)"))
	flags.Bool("no-index", false, wrapString("do not create the (key, expires) index"))
	flags.Bool("print-metrics", false, wrapString("print store metrics in Prometheus format when done"))
	flags.String("log-level", "warn", wrapString("log level (debug, info, warn, error)"))

	root.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.deleteCmd(),
		a.deleteMatchingCmd(),
		a.cleanCmd(),
		a.clearCmd(),
		a.countCmd(),
	)
	return root
}

// initConfig loads .env files and binds DOCCACHE_* environment variables.
func (a *app) initConfig(cmd *cobra.Command) error {
	_ = godotenv.Load(".env")       //nolint:errcheck // optional
	_ = godotenv.Load(".env.local") //nolint:errcheck // optional

	a.v.SetEnvPrefix("doccache")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.initConfig(cmd); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.v.GetString("log-level"), err)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	conn, err := connector(a.v)
	if err != nil {
		return err
	}

	opts := []doccache.Option{
		doccache.WithConnector(conn),
		doccache.WithCollectionName(a.v.GetString("collection")),
		doccache.WithNamespace(a.v.GetString("namespace")),
		doccache.WithDefaultExpiresIn(a.v.GetDuration("expires-in")),
		doccache.WithCreateIndex(!a.v.GetBool("no-index")),
		doccache.WithLogger(logger),
	}
	if name := a.v.GetString("database"); name != "" {
		opts = append(opts, doccache.WithDatabaseName(name))
	}
	if size := a.v.GetInt64("capped-size"); size > 0 {
		opts = append(opts, doccache.WithCapped(size))
	}

	a.store, err = doccache.New(opts...)
	return err
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.store == nil {
		return nil
	}
	if a.v.GetBool("print-metrics") {
		a.store.Metrics().WritePrometheus(cmd.OutOrStdout())
	}
	return a.store.Close()
}

// connector builds the database connector for the configured backend.
func connector(v *viper.Viper) (collection.Connector, error) {
	comp, err := compress.ByName(v.GetString("compress"))
	if err != nil {
		return nil, err
	}
	path := v.GetString("path")

	switch backend := v.GetString("backend"); backend {
	case "memory":
		return memory.Connector(), nil
	case "mongo":
		return mongo.Connector(v.GetString("uri")), nil
	case "sqlite":
		if path == "" {
			path = "."
		}
		return sqlite.Connector(path), nil
	case "localfs":
		return localfs.Connector(path, comp), nil
	case "datastore":
		return datastore.Connector(comp), nil
	case "valkey":
		return valkey.Connector(v.GetString("addr"), comp), nil
	case "cloudrun":
		return cloudrun.Connector(path, comp), nil
	default:
		return nil, fmt.Errorf("invalid backend %q", backend)
	}
}

var errNotFound = errors.New("not found")

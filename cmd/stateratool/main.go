package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/statera-project/statera/pkg/config"
	"github.com/statera-project/statera/pkg/core/flatstorage"
	"github.com/statera-project/statera/pkg/core/shardtries"
	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	commonFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML configuration",
			Value: "config.yaml",
		},
		cli.UintFlag{
			Name:  "shard, s",
			Usage: "shard id",
		},
		cli.UintFlag{
			Name:  "shard-version",
			Usage: "shard layout version",
		},
	}
	heightFlag := cli.UintFlag{
		Name:  "height",
		Usage: "block height",
	}

	app := cli.NewApp()
	app.Name = "stateratool"
	app.Usage = "inspect and maintain a state storage database"
	app.Commands = []cli.Command{
		{
			Name:   "root",
			Usage:  "print the state root committed by a block",
			Flags:  append([]cli.Flag{heightFlag}, commonFlags...),
			Action: stateRoot,
		},
		{
			Name:      "get",
			Usage:     "look up a key at a block height",
			ArgsUsage: "<key-hex>",
			Flags: append([]cli.Flag{
				heightFlag,
				cli.BoolFlag{
					Name:  "flat",
					Usage: "read through the flat index instead of the trie",
				},
			}, commonFlags...),
			Action: getKey,
		},
		{
			Name:   "gc",
			Usage:  "garbage collect state roots outside of the retention window",
			Flags:  append([]cli.Flag{heightFlag}, commonFlags...),
			Action: runGC,
		},
		{
			Name:   "rebuild-flat",
			Usage:  "rebuild the flat index of a shard from its trie",
			Flags:  append([]cli.Flag{heightFlag}, commonFlags...),
			Action: rebuildFlat,
		},
	}
	return app
}

type env struct {
	cfg   config.Config
	store storage.Store
	tries *shardtries.ShardTries
	log   *zap.Logger
}

func openEnv(ctx *cli.Context) (*env, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, cli.NewExitError(err, 1)
	}
	store, err := storage.NewStore(cfg.DB)
	if err != nil {
		return nil, cli.NewExitError(fmt.Errorf("failed to open the store: %w", err), 1)
	}
	log, err := zap.NewProduction()
	if err != nil {
		return nil, cli.NewExitError(err, 1)
	}
	return &env{
		cfg:   cfg,
		store: store,
		tries: shardtries.New(store, cfg.TriesConfig(), log),
		log:   log,
	}, nil
}

func (e *env) close() {
	_ = e.store.Close()
	_ = e.log.Sync()
}

func shardFromContext(ctx *cli.Context) storage.ShardUId {
	return storage.ShardUId{
		Version: uint32(ctx.Uint("shard-version")),
		ShardID: uint32(ctx.Uint("shard")),
	}
}

func stateRoot(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	root, err := e.tries.StateRoot(shardFromContext(ctx), uint32(ctx.Uint("height")))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, root.StringBE())
	return nil
}

func getKey(ctx *cli.Context) error {
	key, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return cli.NewExitError(fmt.Errorf("invalid key: %w", err), 1)
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	var (
		shard  = shardFromContext(ctx)
		height = uint32(ctx.Uint("height"))
		value  []byte
	)
	if ctx.Bool("flat") {
		fs, err := flatstorage.NewFlatStorage(e.store, shard)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		value, err = fs.Get(key, height)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
	} else {
		root, err := e.tries.StateRoot(shard, height)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		value, err = e.tries.GetViewTrie(shard, root).Get(key)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
	}
	fmt.Fprintln(ctx.App.Writer, hex.EncodeToString(value))
	return nil
}

func runGC(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	pruned, err := e.tries.RunGC(shardFromContext(ctx), uint32(ctx.Uint("height")))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "pruned %d blocks\n", pruned)
	return nil
}

func rebuildFlat(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	var (
		shard  = shardFromContext(ctx)
		height = uint32(ctx.Uint("height"))
	)
	root, err := e.tries.StateRoot(shard, height)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("no state root for block %d: %w", height, err), 1)
	}
	fss := flatstorage.NewFlatStorages(e.store, e.log)
	if err := fss.Rebuild(flatstorage.RebuildTask{
		Shard:  shard,
		Trie:   e.tries.GetViewTrie(shard, root),
		Height: height,
	}); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, "flat storage rebuilt")
	return nil
}

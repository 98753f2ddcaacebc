// Command omero-metadata runs one metadata operation against the configured
// image database and prints the result as JSON. It is the command-line
// surface of the adapter, mainly used for scripting and debugging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bioimageit/bioimageit-omero/internal/formats"
	"github.com/bioimageit/bioimageit-omero/internal/localstore"
	"github.com/bioimageit/bioimageit-omero/internal/metadata"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/internal/workspace"
	"github.com/bioimageit/bioimageit-omero/pkg/config"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "omero-metadata: %v\n", err)
		exitFunc(exitCode(err))
	}
}

const usage = `usage: omero-metadata -config <file> <command> [arguments]

commands:
  experiments                               list experiments
  experiment <md-uri>                       show one experiment
  create-experiment <name> <author> [key ...]
  dataset <md-uri>                          show one dataset
  create-dataset <experiment-md-uri> <name>
  import <experiment-md-uri> <path> <format> [key=value ...]
  raw-data <md-uri>                         show one raw data item
  processed-data <md-uri>                   show one processed data item
  runs <dataset-md-uri>                     list runs of a dataset
  run <md-uri>                              show one run
  download <md-uri> <destination>           export a data item's file
`

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("omero-metadata", flag.ContinueOnError)
	configPath := fs.String("config", "bioimageit.yaml", "configuration file")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	svc, cleanup, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = svc.Close(ctx) }()

	return dispatch(ctx, svc, fs.Args(), out)
}

func buildService(cfg *config.Config) (*metadata.Service, func(), error) {
	client := remote.NewREST(remote.RESTConfig{
		Host:     cfg.Remote.Host,
		Port:     cfg.Remote.Port,
		Username: cfg.Remote.Username,
		Password: cfg.Remote.Password,
		Secure:   cfg.Remote.Secure,
		Timeout:  cfg.RemoteTimeout(),
	})

	ws, err := openWorkspace(cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	opts := []metadata.Option{}
	switch cfg.Mirror.Type {
	case "", "none":
	case "memory":
		opts = append(opts, metadata.WithMirror(localstore.NewCache()))
	case "sqlite":
		store, err := localstore.NewSQLiteStore(cfg.Mirror.Path)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
		opts = append(opts, metadata.WithMirror(store))
	case "postgres":
		store, err := localstore.NewPostgresStore(context.Background(), cfg.Mirror.DSN)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
		opts = append(opts, metadata.WithMirror(store))
	}
	switch cfg.Metrics.Exporter {
	case "", "none":
	case "expvar":
		opts = append(opts, metadata.WithMetrics(metadata.NewExpvarMetricsRecorder(cfg.Metrics.Namespace)))
	case "prometheus":
		rec, err := metadata.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, metadata.WithMetrics(rec))
	}

	return metadata.New(client, ws, formats.NewRegistry(), opts...), cleanup, nil
}

func openWorkspace(cfg *config.Config) (workspace.Store, error) {
	switch cfg.Workspace.Driver {
	case "fs":
		return workspace.NewFilesystem(cfg.Workspace.Root)
	case "s3":
		return workspace.NewS3(context.Background(), workspace.S3Config{
			Bucket: cfg.Workspace.Bucket,
			Prefix: cfg.Workspace.Prefix,
		})
	case "memory":
		return workspace.NewMemory(), nil
	default:
		return nil, fmt.Errorf("workspace driver %q unknown", cfg.Workspace.Driver)
	}
}

func dispatch(ctx context.Context, svc *metadata.Service, args []string, out io.Writer) error {
	command, args := args[0], args[1:]
	switch command {
	case "experiments":
		exps, err := svc.ListExperiments(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, exps)
	case "experiment":
		if len(args) != 1 {
			return errors.New("experiment requires <md-uri>")
		}
		exp, err := svc.GetExperiment(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, exp)
	case "create-experiment":
		if len(args) < 2 {
			return errors.New("create-experiment requires <name> <author> [key ...]")
		}
		exp, err := svc.CreateExperiment(ctx, args[0], args[1], "now", args[2:])
		if err != nil {
			return err
		}
		return printJSON(out, exp)
	case "dataset":
		if len(args) != 1 {
			return errors.New("dataset requires <md-uri>")
		}
		ds, err := svc.GetDataset(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, ds)
	case "create-dataset":
		if len(args) != 2 {
			return errors.New("create-dataset requires <experiment-md-uri> <name>")
		}
		ds, err := svc.CreateDataset(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(out, ds)
	case "import":
		if len(args) < 3 {
			return errors.New("import requires <experiment-md-uri> <path> <format> [key=value ...]")
		}
		pairs, err := parsePairs(args[3:])
		if err != nil {
			return err
		}
		data, err := svc.ImportData(ctx, args[0], args[1], baseName(args[1]), "", args[2], "now", pairs)
		if err != nil {
			return err
		}
		return printJSON(out, data)
	case "raw-data":
		if len(args) != 1 {
			return errors.New("raw-data requires <md-uri>")
		}
		data, err := svc.GetRawData(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, data)
	case "processed-data":
		if len(args) != 1 {
			return errors.New("processed-data requires <md-uri>")
		}
		data, err := svc.GetProcessedData(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, data)
	case "runs":
		if len(args) != 1 {
			return errors.New("runs requires <dataset-md-uri>")
		}
		runs, err := svc.ListDatasetRuns(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, runs)
	case "run":
		if len(args) != 1 {
			return errors.New("run requires <md-uri>")
		}
		run, err := svc.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, run)
	case "download":
		if len(args) != 2 {
			return errors.New("download requires <md-uri> <destination>")
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := svc.DownloadData(ctx, args[0], f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

func parsePairs(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed key=value pair %q", arg)
		}
		pairs[key] = value
	}
	return pairs, nil
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// exitCode maps typed errors to distinct exit codes for scripting.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.As(err, new(domain.NotFoundError)):
		return 2
	case errors.As(err, new(domain.ConnectionError)):
		return 3
	default:
		return 1
	}
}

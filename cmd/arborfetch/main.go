package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/arborfetch/arbor/ast"
	"github.com/arborfetch/arbor/future"
	"github.com/arborfetch/arbor/runner"
	"github.com/arborfetch/arbor/source"

	eventbus "github.com/arborfetch/arbor/internal/eventbus"
	otelsetup "github.com/arborfetch/arbor/internal/otel"
)

const rootUsage = `arborfetch — demo runner for the declarative fetch orchestrator

USAGE:
  arborfetch <command> [flags]

COMMANDS:
  run              Execute one of the built-in demo fetch descriptions
  help             Show help for any command
`

const runUsage = `run FLAGS:
  -scenario <name>       Demo to execute: dedup, bind-batch, fan-out (default: bind-batch)
  -env <value>           Opaque environment value threaded to every fetch (default: "")
  -otel.endpoint <addr>  OTLP collector endpoint
  -otel.service <name>   OpenTelemetry service name (default: arborfetch)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("arborfetch", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdRun(args []string) error {
	scenario := "bind-batch"
	env := ""
	otelEndpoint := ""
	otelService := "arborfetch"

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&scenario, "scenario", scenario, "Demo fetch description to run")
	fs.StringVar(&env, "env", env, "Opaque environment value threaded to every fetch")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}

	a, err := buildScenario(scenario)
	if err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otelsetup.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	outcome, err := runner.Execute(context.Background(), a, runner.Options{Env: env}).Get()
	if err != nil {
		return fmt.Errorf("run %q: %w", scenario, err)
	}

	log.Printf("scenario %q result: %v", scenario, outcome.Value)
	log.Printf("scenario %q cache: %v", scenario, snapshotSummary(outcome.Cache.Snapshot()))
	return nil
}

func snapshotSummary(snap map[string]map[any]any) string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	for _, name := range names {
		fmt.Fprintf(buf, "%s:%d ", name, len(snap[name]))
	}
	return buf.String()
}

// demoSource is a tiny, self-contained DataSource used only by these
// built-in demos: it never talks to a real backend.
type demoSource struct {
	name    string
	id      any
	fetchFn func(id any, env any) (any, error)
}

func (s demoSource) SourceName() string { return s.name }
func (s demoSource) Identity() any      { return s.id }
func (s demoSource) Fetch(ctx context.Context, env any) future.Future[any] {
	return future.Go(func() (any, error) { return s.fetchFn(s.id, env) })
}

type demoBatchedSource struct {
	demoSource
	fetchMultiFn func(ids []any, env any) (map[any]any, error)
}

func (s demoBatchedSource) FetchMulti(ctx context.Context, sources []source.DataSource, env any) future.Future[map[any]any] {
	ids := make([]any, len(sources))
	for i, ss := range sources {
		ids[i] = ss.Identity()
	}
	return future.Go(func() (map[any]any, error) { return s.fetchMultiFn(ids, env) })
}

func buildScenario(name string) (ast.AST, error) {
	switch name {
	case "dedup":
		friends := func(n int) demoSource {
			return demoSource{name: "FriendsOf", id: n, fetchFn: func(id any, env any) (any, error) {
				count := id.(int)
				xs := make([]int, count)
				for i := range xs {
					xs[i] = i
				}
				return xs, nil
			}}
		}
		return ast.Product(
			ast.Src(friends(1)),
			ast.Src(friends(2)),
			ast.Src(friends(2)),
		), nil

	case "bind-batch":
		friends := demoSource{name: "FriendsOf", id: 5, fetchFn: func(id any, env any) (any, error) {
			count := id.(int)
			xs := make([]int, count)
			for i := range xs {
				xs[i] = i
			}
			return xs, nil
		}}
		score := func(id int) demoBatchedSource {
			return demoBatchedSource{
				demoSource: demoSource{name: "ActivityScore", id: id},
				fetchMultiFn: func(ids []any, env any) (map[any]any, error) {
					out := make(map[any]any, len(ids))
					for _, i := range ids {
						out[i] = i.(int) + 1
					}
					return out, nil
				},
			}
		}
		return ast.Bind(func(v any) ast.AST {
			xs := v.([]int)
			sorted := append([]int(nil), xs...)
			sort.Ints(sorted)
			children := make([]ast.AST, len(sorted))
			for i, x := range sorted {
				children[i] = ast.Src(score(x))
			}
			return ast.Collect(children)
		}, ast.Src(friends)), nil

	case "fan-out":
		friends := demoSource{name: "FriendsOf", id: 3, fetchFn: func(id any, env any) (any, error) {
			count := id.(int)
			xs := make([]int, count)
			for i := range xs {
				xs[i] = i
			}
			return xs, nil
		}}
		pet := func(id int) demoSource {
			return demoSource{name: "Pet", id: id, fetchFn: func(id any, env any) (any, error) { return "dog", nil }}
		}
		return ast.Bind(func(v any) ast.AST {
			xs := v.([]int)
			children := make([]ast.AST, len(xs))
			for i, x := range xs {
				if x%2 != 0 {
					children[i] = ast.Value("no-pet")
				} else {
					children[i] = ast.Src(pet(x))
				}
			}
			return ast.Collect(children)
		}, ast.Src(friends)), nil

	default:
		return ast.AST{}, fmt.Errorf("unknown scenario %q", name)
	}
}

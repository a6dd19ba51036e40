// Command menuctl drives a restaurant's ordered collections from the terminal.
//
//	menuctl -user alice -kind menu -parent r1 list
//	menuctl -user alice -kind menu -parent r1 move 2 0
//	menuctl -user alice -kind item -parent c1 delete <id>
//	menuctl -user alice -kind menu -parent r1 watch
//	menuctl -user alice publish <restaurant>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/client"
	"github.com/example/menu-sync/internal/notify"
	"github.com/example/menu-sync/internal/observability"
	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/synchronizer"
	"github.com/example/menu-sync/internal/types"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "API base url")
	user := flag.String("user", os.Getenv("MENU_USER"), "user id sent to the API")
	kindName := flag.String("kind", "menu", "collection kind: menu, category, item or banner")
	parent := flag.String("parent", "", "id of the collection's parent")
	timeout := flag.Duration("timeout", 10*time.Second, "per command timeout, ignored by watch")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := observability.NewLogger("menuctl", level, true)

	if *user == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(*addr, *user, client.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid api address")
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "publish" || cmd == "unpublish" {
		if err := runPublish(ctx, c, cmd, args, *timeout); err != nil {
			fail(err)
		}
		return
	}

	kind, err := types.ParseKind(*kindName)
	if err != nil {
		fail(err)
	}
	if *parent == "" {
		fail(errors.New("-parent is required"))
	}
	key := types.ParentKey{Kind: kind, Parent: *parent}

	switch kind {
	case types.KindMenu:
		err = run[types.Menu](ctx, c, key, cmd, args, *timeout, logger)
	case types.KindCategory:
		err = run[types.Category](ctx, c, key, cmd, args, *timeout, logger)
	case types.KindItem:
		err = run[types.Item](ctx, c, key, cmd, args, *timeout, logger)
	case types.KindBanner:
		err = run[types.Banner](ctx, c, key, cmd, args, *timeout, logger)
	}
	if err != nil {
		fail(err)
	}
}

func run[T ordering.Orderable[T]](ctx context.Context, c *client.Client, key types.ParentKey, cmd string, args []string, timeout time.Duration, logger zerolog.Logger) error {
	toasts := &notify.Recorder{}
	syncer := synchronizer.New[T](client.NewCollection[T](c, key.Kind), logger, synchronizer.Config{
		Name:     string(key.Kind),
		Notifier: notify.Multi{toasts, notify.NewLogNotifier(logger)},
	})
	defer syncer.Close(key.Parent)
	defer printToasts(toasts)

	if cmd == "watch" {
		return watch(ctx, c, syncer, key)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := syncer.Load(ctx, key.Parent); err != nil {
		return err
	}

	switch cmd {
	case "list":
	case "move":
		if len(args) != 2 {
			return errors.New("usage: move <from> <to>")
		}
		from, err1 := strconv.Atoi(args[0])
		to, err2 := strconv.Atoi(args[1])
		if err := errors.Join(err1, err2); err != nil {
			return fmt.Errorf("move indices: %w", err)
		}
		if err := syncer.ApplyOptimisticReorder(ctx, key.Parent, from, to); err != nil {
			return err
		}
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <id>")
		}
		if _, err := syncer.Delete(ctx, key.Parent, args[0]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	printCollection(syncer.Snapshot(key.Parent))
	return nil
}

// watch prints the collection and reloads it whenever another session
// changes it.
func watch[T ordering.Orderable[T]](ctx context.Context, c *client.Client, syncer *synchronizer.Synchronizer[T], key types.ParentKey) error {
	unsubscribe := syncer.Subscribe(key.Parent, func(items []T) {
		fmt.Printf("--- %s\n", time.Now().Format(time.Kitchen))
		printCollection(items)
	})
	defer unsubscribe()

	if _, err := syncer.Load(ctx, key.Parent); err != nil {
		return err
	}
	err := c.Watch(ctx, []types.ParentKey{key}, func(ev types.ChangeEvent) {
		go func() {
			if _, err := syncer.Load(ctx, key.Parent); err != nil && !errors.Is(err, synchronizer.ErrStaleFetch) {
				fmt.Fprintf(os.Stderr, "reload after %s: %v\n", ev.Action, err)
			}
		}()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runPublish(ctx context.Context, c *client.Client, cmd string, args []string, timeout time.Duration) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <restaurant>", cmd)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		r   types.Restaurant
		err error
	)
	if cmd == "publish" {
		r, err = c.Publish(ctx, args[0])
	} else {
		r, err = c.Unpublish(ctx, args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s published=%t\n", r.Name, r.IsPublished)
	return nil
}

type named interface {
	DisplayName() string
}

func printCollection[T ordering.Orderable[T]](items []T) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tID\tNAME")
	for _, item := range items {
		name := ""
		if n, ok := any(item).(named); ok {
			name = n.DisplayName()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", item.OrderPosition(), item.OrderKey(), name)
	}
	_ = w.Flush()
}

func printToasts(r *notify.Recorder) {
	for _, n := range r.Drain() {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "menuctl:", err)
	os.Exit(1)
}

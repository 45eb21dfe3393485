package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/domain"
	"prism-board/gateway"
	"prism-board/session"
	"prism-board/store"
)

const usage = `usage: boardctl [flags] <command> [args]

commands:
  show
  add-column <title>
  add-task <columnId> <title> [description]
  edit-task <taskId> <title>
  delete-task <taskId>
  move <taskId> <fromColumnId> <toColumnId> [position]
  whoami
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(run(context.Background(), cfg, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("boardctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage, "\nflags:\n")
		fs.PrintDefaults()
	}
	apiURL := fs.String("api", cfg.APIURL, "board service base URL")
	token := fs.String("token", cfg.Token, "bearer token")
	boardID := fs.String("board", "", "board id (default: current board)")
	timeout := fs.Duration("timeout", cfg.HTTPTimeout, "per-request timeout")
	moveOrder := fs.String("move-order", cfg.MoveOrder, "order sent with moves: source, destination or requested")
	asJSON := fs.Bool("json", false, "print the board as JSON")
	debug := fs.Bool("debug", cfg.Debug, "log every operation")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger := log.New()
	logger.SetOutput(stderr)
	if *debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.ErrorLevel)
	}
	policy, err := store.ParseMoveOrderPolicy(*moveOrder)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *token == "" {
		fmt.Fprintln(stderr, "boardctl: no token; set BOARD_TOKEN or -token")
		return 1
	}

	sess := session.NewStatic(*token, nil)
	gw := gateway.New(*apiURL, sess, gateway.WithTimeout(*timeout))
	sess.SetLookup(gw)
	st := store.New(gw, sess, store.WithLogger(logger), store.WithMoveOrderPolicy(policy))

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "whoami" {
		user, err := sess.CurrentUser(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "boardctl: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\tboard=%s\n", user.ID, user.Name, user.Email, user.BoardID)
		return 0
	}

	st.FetchBoard(ctx, *boardID)
	if msg := st.Err(); msg != "" {
		fmt.Fprintf(stderr, "boardctl: %s\n", msg)
		return 1
	}
	if err := dispatch(ctx, st, cmd, rest); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "boardctl: %v\n", err)
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "boardctl: %v\n", err)
		return 1
	}
	if msg := st.Err(); msg != "" {
		fmt.Fprintf(stderr, "boardctl: %s\n", msg)
		return 1
	}

	snap := st.Snapshot()
	if *asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "boardctl: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(out))
		return 0
	}
	printBoard(stdout, snap)
	return 0
}

func dispatch(ctx context.Context, st *store.Store, cmd string, args []string) error {
	need := func(lo, hi int) error {
		if len(args) < lo || len(args) > hi {
			return fmt.Errorf("%w: %s takes %d to %d arguments", errUsage, cmd, lo, hi)
		}
		return nil
	}
	switch cmd {
	case "show":
		return need(0, 0)
	case "add-column":
		if err := need(1, 1); err != nil {
			return err
		}
		st.CreateColumn(ctx, args[0])
	case "add-task":
		if err := need(2, 3); err != nil {
			return err
		}
		var desc string
		if len(args) == 3 {
			desc = args[2]
		}
		st.CreateTask(ctx, args[0], args[1], desc)
	case "edit-task":
		if err := need(2, 2); err != nil {
			return err
		}
		title := args[1]
		st.UpdateTask(ctx, args[0], domain.TaskPatch{Title: &title})
	case "delete-task":
		if err := need(1, 1); err != nil {
			return err
		}
		st.DeleteTask(ctx, args[0])
	case "move":
		if err := need(3, 4); err != nil {
			return err
		}
		pos := -1
		if len(args) == 4 {
			n, err := strconv.Atoi(args[3])
			if err != nil || n < 0 {
				return fmt.Errorf("%w: bad position %q", errUsage, args[3])
			}
			pos = n
		}
		st.MoveTask(ctx, args[0], args[1], args[2], pos)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func printBoard(w io.Writer, snap domain.Snapshot) {
	if snap.Board == nil {
		fmt.Fprintln(w, "(no board)")
		return
	}
	fmt.Fprintf(w, "%s [%s]\n", snap.Board.Title, snap.Board.ID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, col := range snap.Columns {
		fmt.Fprintf(tw, "\n%s [%s]\t(%d)\n", col.Title, col.ID, len(col.Tasks))
		for _, t := range col.Tasks {
			line := "  - " + t.Title + "\t" + t.ID
			if len(t.Labels) > 0 {
				line += "\t" + strings.Join(t.Labels, ",")
			}
			fmt.Fprintln(tw, line)
		}
	}
	_ = tw.Flush()
}

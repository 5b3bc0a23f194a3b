package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Check text interactively",
	Long: `Read lines from the terminal and check each one.

Commands:
  :health   show the health report
  :stats    show statistics
  :clear    clear the result cache
  :quit     leave (Ctrl-D works too)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}

		cfg := &readline.Config{
			Prompt:          "prosecheck> ",
			InterruptPrompt: "^C",
			EOFPrompt:       ":quit",
			Stdout:          cmd.OutOrStdout(),
		}
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HistoryFile = filepath.Join(home, ".prosecheck_history")
		}
		rl, err := readline.NewEx(cfg)
		if err != nil {
			return fmt.Errorf("start repl: %w", err)
		}
		defer rl.Close()

		return runREPL(cmd.Context(), app, rl, cmd.OutOrStdout())
	},
}

// lineReader yields input lines. *readline.Instance satisfies it.
type lineReader interface {
	Readline() (string, error)
}

func runREPL(ctx context.Context, app *App, in lineReader, out io.Writer) error {
	r := newRenderer(out)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ":quit", ":q", ":exit":
			return nil
		case ":health":
			r.Health(app.Checker.GetHealthReport())
		case ":stats":
			r.Stats(app.Checker.GetStats(ctx))
		case ":clear":
			if err := app.Checker.ClearCache(ctx); err != nil {
				fmt.Fprintln(out, r.errorC.Sprint(err))
				continue
			}
			fmt.Fprintln(out, "Cache cleared.")
		default:
			if strings.HasPrefix(line, ":") {
				fmt.Fprintf(out, "unknown command %s\n", line)
				continue
			}
			result, err := app.Checker.Check(ctx, line, nil)
			if err != nil {
				fmt.Fprintln(out, r.errorC.Sprint(err))
				continue
			}
			r.Result(line, result)
		}
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
}

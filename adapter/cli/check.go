package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

type checkFlags struct {
	categories []string
	disable    []string
	language   string
	strict     bool
}

var checkOpts checkFlags

var checkCmd = &cobra.Command{
	Use:   "check [file|-]",
	Short: "Check text for grammar, spelling and style issues",
	Long: `Check a file, or stdin when the argument is "-" or missing.

Examples:
  prosecheck check README.md
  echo "Their going home." | prosecheck check
  prosecheck check --categories spelling,grammar notes.txt
  prosecheck check --disable assistant --json draft.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}

		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		text, err := readText(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		opts, err := checkOpts.options()
		if err != nil {
			return err
		}

		result, err := app.Checker.Check(cmd.Context(), text, opts)
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}
		newRenderer(cmd.OutOrStdout()).Result(text, result)
		return nil
	},
}

func (f checkFlags) options() (*types.Options, error) {
	opts := &types.Options{Language: f.language, StrictMode: f.strict}
	for _, name := range f.categories {
		c, err := types.ParseCategory(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		opts.Categories = append(opts.Categories, c)
	}
	if len(f.disable) > 0 {
		opts.Engines = make(map[string]bool, len(f.disable))
		for _, name := range f.disable {
			opts.Engines[strings.TrimSpace(name)] = false
		}
	}
	return opts, nil
}

func readText(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkOpts.categories, "categories", nil, "only report these categories (grammar, spelling, style, punctuation, clarity)")
	checkCmd.Flags().StringSliceVar(&checkOpts.disable, "disable", nil, "engines to skip")
	checkCmd.Flags().StringVar(&checkOpts.language, "language", "", "BCP 47 language tag (default en)")
	checkCmd.Flags().BoolVar(&checkOpts.strict, "strict", false, "enable noisy rules")

	rootCmd.AddCommand(checkCmd)
}

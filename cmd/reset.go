package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) resetCmd() *cobra.Command {
	var (
		resetEncodings bool
		resetAnnotated bool
		assumeYes      bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete generated state (encodings file, annotated images)",
		Long:  "Clears generated data. By default, it resets everything. Use flags to clear specific components.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.stage = "Reset failed"
			// If no flags are set, default to clearing EVERYTHING
			if !resetEncodings && !resetAnnotated {
				resetEncodings = true
				resetAnnotated = true
			}

			reader := bufio.NewReader(a.in)
			ask := func(prompt string) bool {
				return assumeYes || a.confirm(reader, prompt)
			}

			if resetEncodings {
				path := a.cfg.Encodings()
				if ask(fmt.Sprintf("⚠️  Are you sure you want to delete %s?", path)) {
					a.printf("🗑️  Clearing encodings...\n")
					if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("failed to remove %s: %w", path, err)
					}
				}
			}

			if resetAnnotated {
				dir := a.cfg.Annotated()
				if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all annotated images in %s?", dir)) {
					a.printf("🗑️  Clearing annotated images...\n")
					if err := os.RemoveAll(dir); err != nil {
						return fmt.Errorf("failed to remove %s: %w", dir, err)
					}
				}
			}

			a.printf("✨ Reset complete.\n")
			a.stage = ""
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetEncodings, "only-encodings", false, "Delete the encodings file only")
	cmd.Flags().BoolVar(&resetAnnotated, "only-annotated", false, "Delete annotated images only")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (a *app) confirm(r *bufio.Reader, prompt string) bool {
	a.printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/segflow/internal/sink"
	"github.com/andresmejia3/segflow/internal/utils"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (run ledger, output files)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			switch {
			case DB == nil:
				fmt.Fprintln(os.Stderr, "⚠️  No ledger configured (--db or POSTGRES_HOST), skipping database.")
			case confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all ledger tables?"):
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			dir := cfg.Routing.OutputDir
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all %s* files in %s?", sink.Prefix, dir)) {
				fmt.Println("🗑️  Clearing Output Files...")
				n, err := removeOutputs(dir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to clear %s: %v\n", dir, err)
				}
				fmt.Printf("   removed %d file(s)\n", n)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "ledger", false, "Clear the PostgreSQL run ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated out_* files")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeOutputs deletes the artifacts written into dir and nothing else.
func removeOutputs(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, sink.Prefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

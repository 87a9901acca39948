package cli

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragserve/internal/adapter/seedstate"
)

var flagSeedFresh bool

var seedCmd = &cobra.Command{
	Use:   "seed [dir]",
	Short: "Ingest every .txt/.pdf file in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.Ingest.SeedPath
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("no seed directory: pass one or set ingest.seed_path")
		}

		st, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if flagSeedFresh {
			os.Remove(cfg.Ingest.SeedStatePath)
		}
		state, err := seedstate.Open(cfg.Ingest.SeedStatePath)
		if err != nil {
			return err
		}
		defer state.Close()

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		bar := progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription("seeding"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		res, err := newIngester(cfg, st).SeedDir(dir, cfg.Ingest.IncludePatterns, state, func(string) {
			bar.Add(1)
		})
		bar.Finish()
		if err != nil {
			return err
		}

		for _, line := range res.Trace {
			fmt.Fprintln(os.Stderr, line)
		}
		docs, chunks := st.Counts()
		fmt.Printf("ingested %d, skipped %d, failed %d (store: %d docs, %d chunks)\n",
			res.Ingested, res.Skipped, res.Failed, docs, chunks)
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&flagSeedFresh, "fresh", false, "forget previous seed state and re-ingest everything")
}

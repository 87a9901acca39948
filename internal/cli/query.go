package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragserve/internal/usecase"
)

var (
	flagTopK      int
	flagNeighbors int
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the document index from the command line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagTopK > 0 {
			cfg.Retrieve.TopK = flagTopK
		}
		if cmd.Flags().Changed("neighbors") {
			cfg.Retrieve.NeighborChunks = flagNeighbors
		}

		st, emb, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		retr := &usecase.Retriever{Store: st, Embedder: emb}
		hits, err := retr.Retrieve(args[0], usecase.RetrieveOptions{
			TopK:           cfg.Retrieve.TopK,
			NeighborChunks: cfg.Retrieve.NeighborChunks,
			ChunkMaxChars:  cfg.Retrieve.ChunkMaxChars,
		})
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("no hits")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("[%d] %s (score %.4f)\n%s\n\n", i+1, h.Source, h.Score, h.Text)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&flagTopK, "top-k", 0, "number of hits (overrides config)")
	queryCmd.Flags().IntVar(&flagNeighbors, "neighbors", 0, "neighbor chunks per hit (overrides config)")
}

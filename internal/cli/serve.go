package cli

import (
	"time"

	"github.com/spf13/cobra"

	"ragserve/config"
	"ragserve/internal/adapter/model"
	"ragserve/internal/domain"
	"ragserve/internal/httpapi"
	"ragserve/internal/logx"
	"ragserve/internal/port"
	"ragserve/internal/usecase"
)

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagPort > 0 {
			cfg.Server.Port = flagPort
		}

		opts := httpapi.Options{
			WebRoot:      cfg.Server.WebRoot,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
			UploadsDir:   cfg.Ingest.UploadsDir,
			EmbedDim:     cfg.Store.EmbedDim,
			GenDefaults:  generateDefaults(cfg),
		}

		st, emb, err := openStore(cfg)
		if err != nil {
			// The server still starts so /rag/info can report the failure;
			// chat runs with retrieval disabled.
			opts.StoreErr = err.Error()
			logx.Error("store.open", "err", err.Error())
			srv := httpapi.NewServer(nil, buildModel(cfg), nil, nil, nil, opts)
			return srv.ListenAndServe(cfg.Server.Port)
		}
		defer st.Close()

		retr := &usecase.Retriever{Store: st, Embedder: emb}
		prep := &usecase.ChatPreparer{
			Retriever: retr,
			Store:     st,
			Enabled:   cfg.Retrieve.Enabled,
			Opts: usecase.RetrieveOptions{
				TopK:           cfg.Retrieve.TopK,
				NeighborChunks: cfg.Retrieve.NeighborChunks,
				ChunkMaxChars:  cfg.Retrieve.ChunkMaxChars,
			},
		}

		srv := httpapi.NewServer(st, buildModel(cfg), retr, prep, newIngester(cfg, st), opts)
		return srv.ListenAndServe(cfg.Server.Port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
}

func buildModel(cfg *config.Config) port.Model {
	switch cfg.Model.Provider {
	case "scripted":
		return model.NewScripted("")
	default:
		return model.NewOllama(cfg.Model.BaseURL, cfg.Model.Name)
	}
}

func generateDefaults(cfg *config.Config) domain.GenerateConfig {
	gc := domain.DefaultGenerateConfig()
	if cfg.Model.MaxNewTokens > 0 {
		gc.MaxNewTokens = cfg.Model.MaxNewTokens
	}
	if cfg.Model.Temperature > 0 {
		gc.Temperature = cfg.Model.Temperature
	}
	if cfg.Model.TopP > 0 {
		gc.TopP = cfg.Model.TopP
	}
	if cfg.Model.TopK > 0 {
		gc.TopK = cfg.Model.TopK
	}
	gc.EnableThinking = cfg.Model.EnableThinking
	return gc
}

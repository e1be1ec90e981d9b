package main

import (
	"fmt"
	"os"

	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
)

// buildConversations resolves the run's frozen conversation pool: decoded
// from --input-file when given, otherwise synthetically generated per
// spec.md §4.2. Either path returns a pool that is never mutated again.
func buildConversations(cfg *config.Config, root *randseed.Root, tok *wordTokenizer) ([]model.Conversation, error) {
	if cfg.InputFile != "" {
		f, err := os.Open(cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		convs, err := dataset.DecodeByType(f, cfg.CustomDatasetType)
		if err != nil {
			return nil, err
		}
		return convs, nil
	}

	corpusIDs := tok.Encode(referenceCorpus)
	gen := dataset.NewGenerator(cfg, tok, root, corpusIDs)
	return gen.GeneratePool(), nil
}

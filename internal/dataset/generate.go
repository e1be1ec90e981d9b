package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
)

// CorpusTokenizer is the minimal contract the generator needs from the
// external tokenizer plugin (spec.md §1: "encode(text)->ids, decode(ids)->
// text, count(text)->int").
type CorpusTokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	Count(text string) int
}

// Generator builds a synthetic conversation pool from a reference corpus,
// per spec.md §4.2 "Turn sizing".
type Generator struct {
	cfg       *config.Config
	tokenizer CorpusTokenizer
	root      *randseed.Root
	corpusIDs []int // reference token ids drawn from repeatedly
	prefixPool [][]int
}

// NewGenerator builds a Generator. corpusIDs is the reference corpus to
// draw synthetic prompt tokens from (e.g. a fixed passage tokenized once).
func NewGenerator(cfg *config.Config, tokenizer CorpusTokenizer, root *randseed.Root, corpusIDs []int) *Generator {
	g := &Generator{cfg: cfg, tokenizer: tokenizer, root: root, corpusIDs: corpusIDs}
	if cfg.PromptPrefixPoolSize > 0 && cfg.PromptPrefixLength > 0 {
		prefixRNG := root.Derive(randseed.IdentPrefixPool)
		g.prefixPool = make([][]int, cfg.PromptPrefixPoolSize)
		for i := range g.prefixPool {
			g.prefixPool[i] = g.drawTokens(prefixRNG, cfg.PromptPrefixLength)
		}
	}
	return g
}

// drawTokens repeatedly samples token ids from the reference corpus until
// n tokens have been collected, wrapping around the corpus as needed.
func (g *Generator) drawTokens(rng *rand.Rand, n int) []int {
	if n < 1 {
		n = 1
	}
	if len(g.corpusIDs) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = rng.Intn(50000)
		}
		return out
	}
	out := make([]int, n)
	for i := range out {
		out[i] = g.corpusIDs[rng.Intn(len(g.corpusIDs))]
	}
	return out
}

// clamp1 enforces the spec's "values are clamped to >=1" rule.
func clamp1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// sampleISLOSL draws one (isl, osl) pair, either from the configured
// sequence-distribution mixture or from independent normal(mean, stddev)
// draws, per spec.md §4.2.
func (g *Generator) sampleISLOSL(rng *rand.Rand) (isl, osl int) {
	if len(g.cfg.SequenceDistribution) > 0 {
		comp := pickComponent(rng, g.cfg.SequenceDistribution)
		isl = clamp1(int(math.Round(sampleNormal(rng, float64(comp.ISL), comp.ISLStdDev))))
		osl = clamp1(int(math.Round(sampleNormal(rng, float64(comp.OSL), comp.OSLStdDev))))
		return isl, osl
	}
	isl = clamp1(int(math.Round(sampleNormal(rng, g.cfg.ISLMean, g.cfg.ISLStdDev))))
	osl = clamp1(int(math.Round(sampleNormal(rng, g.cfg.OSLMean, g.cfg.OSLStdDev))))
	return isl, osl
}

func pickComponent(rng *rand.Rand, dist []config.SequenceDistribution) config.SequenceDistribution {
	total := 0.0
	for _, d := range dist {
		total += d.Prob
	}
	if total <= 0 {
		return dist[0]
	}
	r := rng.Float64() * total
	acc := 0.0
	for _, d := range dist {
		acc += d.Prob
		if r <= acc {
			return d
		}
	}
	return dist[len(dist)-1]
}

func sampleNormal(rng *rand.Rand, mean, stddev float64) float64 {
	if stddev <= 0 {
		return mean
	}
	return rng.NormFloat64()*stddev + mean
}

// GenerateConversation builds one synthetic, single- or multi-turn
// conversation. turnCount is sampled from normal(ConversationTurnMean,
// ConversationTurnStdDev) and clamped to >=1 by the caller.
func (g *Generator) GenerateConversation(id string, turnCount int) model.Conversation {
	lengthRNG := g.root.Derive(fmt.Sprintf("%s.%s", randseed.IdentPromptLength, id))
	delayRNG := g.root.Derive(fmt.Sprintf("%s.%s", randseed.IdentTurnDelay, id))

	turns := make([]model.Turn, turnCount)
	for i := 0; i < turnCount; i++ {
		isl, osl := g.sampleISLOSL(lengthRNG)
		ids := g.drawTokens(lengthRNG, isl)
		if len(g.prefixPool) > 0 {
			prefix := g.prefixPool[lengthRNG.Intn(len(g.prefixPool))]
			ids = append(append([]int{}, prefix...), ids...)
		}
		delay := 0.0
		if i > 0 {
			delay = math.Max(0, sampleNormal(delayRNG, g.cfg.ConversationTurnDelayMean, g.cfg.ConversationTurnDelayStdDev)) * g.cfg.ConversationTurnDelayRatio
		}
		turns[i] = model.Turn{
			Role:         "user",
			Text:         g.tokenizer.Decode(ids),
			InputIDs:     ids,
			MaxTokens:    osl,
			MinTokens:    0,
			Model:        g.cfg.Model,
			DelayAfterMs: delay,
		}
	}
	return model.Conversation{ID: id, Turns: turns}
}

// GeneratePool builds the full conversation pool for ConversationNum
// sessions, each with a turn count drawn from normal(ConversationTurnMean,
// ConversationTurnStdDev) clamped to >=1.
func (g *Generator) GeneratePool() []model.Conversation {
	countRNG := g.root.Derive("dataset.conversation.turn_count")
	pool := make([]model.Conversation, g.cfg.ConversationNum)
	for i := 0; i < g.cfg.ConversationNum; i++ {
		turnCount := clamp1(int(math.Round(sampleNormal(countRNG, g.cfg.ConversationTurnMean, g.cfg.ConversationTurnStdDev))))
		pool[i] = g.GenerateConversation(fmt.Sprintf("conv-%06d", i), turnCount)
	}
	return pool
}

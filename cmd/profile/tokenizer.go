package main

import "strings"

// wordTokenizer is the default stand-in for the external tokenizer
// plugin spec.md §1 treats as an interface boundary
// (encode/decode/count) and keeps out of scope. No tokenizer library
// appears anywhere in the example pack, so profile falls back to a
// trivial whitespace vocabulary when the caller wires no real plugin —
// good enough to drive synthetic dataset generation and token-count
// metrics end to end, never meant to match any production BPE.
type wordTokenizer struct {
	words []string
	index map[string]int
}

func newWordTokenizer(corpus string) *wordTokenizer {
	t := &wordTokenizer{index: make(map[string]int)}
	for _, w := range strings.Fields(corpus) {
		if _, ok := t.index[w]; ok {
			continue
		}
		t.index[w] = len(t.words)
		t.words = append(t.words, w)
	}
	if len(t.words) == 0 {
		t.words = []string{"lorem"}
		t.index["lorem"] = 0
	}
	return t
}

func (t *wordTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, w := range fields {
		if id, ok := t.index[w]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *wordTokenizer) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(t.words) {
			words = append(words, t.words[id])
		}
	}
	return strings.Join(words, " ")
}

func (t *wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

const referenceCorpus = `the quick brown fox jumps over the lazy dog while a long long time ago
in a galaxy far away a benchmark ran across a thousand conversations measuring
latency throughput and goodput under warmup profiling cooldown and finalizing
phases every request carried a correlation id and a worker id and a session
number across many turns of user and assistant dialogue about weather and
science and history and cooking and travel and music and mathematics and code`

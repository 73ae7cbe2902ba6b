package agent

import (
	"context"
	"fmt"

	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
)

// History-truncation strategy: keep the last keepTail turns verbatim;
// once a session accumulates more than summarizeThreshold turns, fold
// everything older than the tail into a rolling summary via an extra
// LM call.
const (
	keepTail            = 4
	summarizeThreshold  = 10
	oversizedTokenRatio = 2 // guard: a single message over contextWindow/oversizedTokenRatio tokens is truncated in the summarization transcript
)

// estimateTokens is a cheap, CJK-safe heuristic (rune count over 3)
// rather than a real tokenizer, since exact token counts aren't
// available without calling the provider.
func estimateTokens(s string) int {
	return len([]rune(s)) / 3
}

// maybeSummarize collapses turns older than keepTail into summary
// when the session has grown past summarizeThreshold, by asking the
// provider to summarize in up to two batches (split at the midpoint)
// for long histories. It returns the possibly-updated summary and the
// turns that should be retained verbatim.
func maybeSummarize(ctx context.Context, p provider.LLMProvider, model string, contextWindow int, existingSummary string, turns []message.Turn) (string, []message.Turn, error) {
	if len(turns) <= summarizeThreshold {
		return existingSummary, turns, nil
	}

	splitAt := len(turns) - keepTail
	older := turns[:splitAt]
	tail := turns[splitAt:]

	var newSummary string
	var err error
	if len(older) > summarizeThreshold {
		mid := len(older) / 2
		var firstHalf, secondHalf string
		firstHalf, err = summarizeBatch(ctx, p, model, contextWindow, existingSummary, older[:mid])
		if err != nil {
			return existingSummary, turns, err
		}
		secondHalf, err = summarizeBatch(ctx, p, model, contextWindow, firstHalf, older[mid:])
		if err != nil {
			return existingSummary, turns, err
		}
		newSummary = secondHalf
	} else {
		newSummary, err = summarizeBatch(ctx, p, model, contextWindow, existingSummary, older)
		if err != nil {
			return existingSummary, turns, err
		}
	}

	return newSummary, tail, nil
}

func summarizeBatch(ctx context.Context, p provider.LLMProvider, model string, contextWindow int, priorSummary string, batch []message.Turn) (string, error) {
	if len(batch) == 0 {
		return priorSummary, nil
	}

	var transcript string
	for _, t := range batch {
		line := fmt.Sprintf("%s: %s\n", t.Role, t.Content)
		if estimateTokens(line) > contextWindow/oversizedTokenRatio {
			line = line[:contextWindow/oversizedTokenRatio*3] + "... [truncated, oversized message]\n"
		}
		transcript += line
	}

	prompt := "Summarize the following conversation turns concisely, preserving facts, decisions, and open commitments. Merge with the prior summary if given.\n\n"
	if priorSummary != "" {
		prompt += "Prior summary:\n" + priorSummary + "\n\n"
	}
	prompt += "Turns to summarize:\n" + transcript

	resp, err := p.Chat(ctx, []provider.ChatMessage{{Role: "user", Content: prompt}}, nil, model, nil)
	if err != nil {
		return priorSummary, fmt.Errorf("summarizing history: %w", err)
	}
	return resp.Content, nil
}

package service

import (
	"context"
	"testing"

	"ai-baas/backend/ai"
	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countWords(messages []ai.ChatMessage) (int, error) {
	return wordEstimator{}.CountTokens(messages, "")
}

func msg(role, content string) ai.ChatMessage {
	return ai.ChatMessage{Role: role, Content: content}
}

func TestAssembleContextKeepsEverythingThatFits(t *testing.T) {
	thread := []ai.ChatMessage{
		msg(ai.RoleUser, "one two"),
		msg(ai.RoleAssistant, "three"),
		msg(ai.RoleUser, "four five six"),
	}
	out, err := AssembleContext(thread, "be brief", 100, 0.75, countWords)
	require.NoError(t, err)

	assert.Equal(t, 75, out.Budget)
	assert.Equal(t, 8, out.UsedTokens)
	assert.Equal(t, 0, out.Dropped)
	assert.Equal(t, []string{"be brief", "one two", "three", "four five six"}, contents(out.Messages))
	assert.Equal(t, ai.RoleSystem, out.Messages[0].Role)
}

func TestAssembleContextSystemPromptAloneExhaustsBudget(t *testing.T) {
	thread := []ai.ChatMessage{
		msg(ai.RoleUser, "a b c d e"),
		msg(ai.RoleAssistant, "f g h i j"),
	}
	// floor(10 * 0.75) = 7, the system prompt costs 3, each message 5
	out, err := AssembleContext(thread, "x y z", 10, 0.75, countWords)
	require.NoError(t, err)

	assert.Equal(t, 7, out.Budget)
	assert.Equal(t, []string{"x y z"}, contents(out.Messages))
	assert.Equal(t, 3, out.UsedTokens)
	assert.Equal(t, 2, out.Dropped)
}

func TestAssembleContextSystemPromptOverBudgetIsStillSent(t *testing.T) {
	out, err := AssembleContext([]ai.ChatMessage{msg(ai.RoleUser, "hi")}, "a b c d e f", 4, 1, countWords)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b c d e f"}, contents(out.Messages))
	assert.Equal(t, 1, out.Dropped)
}

func TestAssembleContextStopsAtFirstOverflow(t *testing.T) {
	thread := []ai.ChatMessage{
		msg(ai.RoleUser, "old"),
		msg(ai.RoleAssistant, "a very long answer here"),
		msg(ai.RoleUser, "new"),
	}
	// the oldest message would fit on its own but sits behind an overflow
	out, err := AssembleContext(thread, "", 4, 1, countWords)
	require.NoError(t, err)

	assert.Equal(t, []string{"new"}, contents(out.Messages))
	assert.Equal(t, 2, out.Dropped)
	assert.Equal(t, 1, out.UsedTokens)
}

func TestAssembleContextBlankSystemPromptIsAbsent(t *testing.T) {
	out, err := AssembleContext([]ai.ChatMessage{msg(ai.RoleUser, "hi")}, "   ", 10, 1, countWords)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, ai.RoleUser, out.Messages[0].Role)
}

func TestAssembleContextEmptyThread(t *testing.T) {
	out, err := AssembleContext(nil, "", 10, 1, countWords)
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
	assert.Zero(t, out.UsedTokens)
}

func TestAssembleContextNeverExceedsBudgetWithoutSystemPrompt(t *testing.T) {
	thread := []ai.ChatMessage{
		msg(ai.RoleUser, "a b c"),
		msg(ai.RoleAssistant, "d e"),
		msg(ai.RoleUser, "f g h i"),
		msg(ai.RoleAssistant, "j"),
	}
	for maxInput := 1; maxInput <= 12; maxInput++ {
		out, err := AssembleContext(thread, "", maxInput, 0.75, countWords)
		require.NoError(t, err)
		assert.LessOrEqual(t, out.UsedTokens, out.Budget, "max input %d", maxInput)
		assert.Equal(t, len(thread), len(out.Messages)+out.Dropped)
		// kept messages are always a suffix of the thread
		assert.Equal(t, contents(thread[out.Dropped:]), contents(out.Messages))
	}
}

func TestAssembleContextRejectsInvalidConfig(t *testing.T) {
	_, err := AssembleContext(nil, "", 0, 0.75, countWords)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	for _, ratio := range []float64{0, -0.1, 1.5} {
		_, err = AssembleContext(nil, "", 100, ratio, countWords)
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfig, "ratio %v", ratio)
	}
}

func TestAssembleContextEstimatorFailure(t *testing.T) {
	failing := func([]ai.ChatMessage) (int, error) { return 0, errBoom }
	_, err := AssembleContext([]ai.ChatMessage{msg(ai.RoleUser, "hi")}, "", 10, 1, failing)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestContextAssemblerUsesModelWindow(t *testing.T) {
	est := wordEstimator{limits: map[string]int{"small": 4}}
	a := NewContextAssembler(est, 1, 100, nil, logger.Discard())

	assert.Equal(t, 4, a.MaxInputTokens("small"))
	assert.Equal(t, 100, a.MaxInputTokens("unknown"))

	thread := []ai.ChatMessage{msg(ai.RoleUser, "a b c"), msg(ai.RoleUser, "d e")}
	out, err := a.Assemble(context.Background(), thread, "", "small")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Dropped)

	out, err = a.Assemble(context.Background(), thread, "", "unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Dropped)
}

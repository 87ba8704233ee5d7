package ai

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// ErrUnknownModel is returned by ModelLimits for models missing from the table
var ErrUnknownModel = errors.New("unknown model")

// fallbackEncoding is used for models tiktoken has no mapping for
const fallbackEncoding = "cl100k_base"

// Chat formatting overhead, in tokens
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// TokenEstimator counts tokens and exposes per-model limits
type TokenEstimator interface {
	// CountTokens counts the tokens the messages occupy in a prompt,
	// including chat formatting overhead.
	CountTokens(messages []ChatMessage, model string) (int, error)
	// CountText counts the tokens of a bare string
	CountText(text, model string) (int, error)
	ModelLimits(model string) (ModelLimits, error)
}

var (
	modelTableMu sync.RWMutex
	modelTable   = map[string]ModelLimits{
		"gpt-4o":            {MaxInputTokens: 128000, MaxOutputTokens: 16384, CostPerInputToken: 2.5e-6, CostPerOutputToken: 10e-6},
		"gpt-4o-mini":       {MaxInputTokens: 128000, MaxOutputTokens: 16384, CostPerInputToken: 0.15e-6, CostPerOutputToken: 0.6e-6},
		"gpt-4-turbo":       {MaxInputTokens: 128000, MaxOutputTokens: 4096, CostPerInputToken: 10e-6, CostPerOutputToken: 30e-6},
		"gpt-4":             {MaxInputTokens: 8192, MaxOutputTokens: 8192, CostPerInputToken: 30e-6, CostPerOutputToken: 60e-6},
		"gpt-3.5-turbo":     {MaxInputTokens: 16385, MaxOutputTokens: 4096, CostPerInputToken: 0.5e-6, CostPerOutputToken: 1.5e-6},
		"claude-3-5-sonnet": {MaxInputTokens: 200000, MaxOutputTokens: 8192, CostPerInputToken: 3e-6, CostPerOutputToken: 15e-6},
		"claude-3-haiku":    {MaxInputTokens: 200000, MaxOutputTokens: 4096, CostPerInputToken: 0.25e-6, CostPerOutputToken: 1.25e-6},
	}
)

// RegisterModel adds or replaces an entry in the model table
func RegisterModel(name string, limits ModelLimits) {
	modelTableMu.Lock()
	modelTable[name] = limits
	modelTableMu.Unlock()
}

// LookupModel resolves limits by exact name, then by the longest known
// prefix so dated snapshots ("gpt-4o-2024-08-06") map to their family.
func LookupModel(model string) (ModelLimits, error) {
	modelTableMu.RLock()
	defer modelTableMu.RUnlock()

	if l, ok := modelTable[model]; ok {
		return l, nil
	}

	names := make([]string, 0, len(modelTable))
	for name := range modelTable {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, name := range names {
		if strings.HasPrefix(model, name) {
			return modelTable[name], nil
		}
	}
	return ModelLimits{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// EstimateCost prices a call from its token counts. Unknown models cost zero.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	limits, err := LookupModel(model)
	if err != nil {
		return 0
	}
	return float64(promptTokens)*limits.CostPerInputToken + float64(completionTokens)*limits.CostPerOutputToken
}

// TiktokenEstimator counts tokens with tiktoken BPE encodings, cached per model
type TiktokenEstimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator. Encodings load lazily.
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (e *TiktokenEstimator) encoding(model string) (*tiktoken.Tiktoken, error) {
	e.mu.RLock()
	enc, ok := e.encodings[model]
	e.mu.RUnlock()
	if ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("load %s encoding: %w", fallbackEncoding, err)
		}
	}

	e.mu.Lock()
	e.encodings[model] = enc
	e.mu.Unlock()
	return enc, nil
}

// CountText implements TokenEstimator
func (e *TiktokenEstimator) CountText(text, model string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := e.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountTokens implements TokenEstimator
func (e *TiktokenEstimator) CountTokens(messages []ChatMessage, model string) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	enc, err := e.encoding(model)
	if err != nil {
		return 0, err
	}

	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

// ModelLimits implements TokenEstimator
func (e *TiktokenEstimator) ModelLimits(model string) (ModelLimits, error) {
	return LookupModel(model)
}

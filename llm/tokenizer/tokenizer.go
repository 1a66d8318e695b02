package tokenizer

import (
	"sync"
	"unicode"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// ForModel returns a tokenizer for model: tiktoken when its encoding data
// loads, the estimator otherwise.
func ForModel(model string) Tokenizer {
	primary := NewTiktokenTokenizer(model)
	return NewFallback(primary, NewEstimator(model, primary.MaxTokens()))
}

// Fallback delegates to primary until it fails once, then to secondary for
// the rest of its lifetime.
type Fallback struct {
	primary   Tokenizer
	secondary Tokenizer

	mu     sync.RWMutex
	failed bool
}

// NewFallback creates a fallback tokenizer.
func NewFallback(primary, secondary Tokenizer) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) active() Tokenizer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failed {
		return f.secondary
	}
	return f.primary
}

func (f *Fallback) markFailed() {
	f.mu.Lock()
	f.failed = true
	f.mu.Unlock()
}

func (f *Fallback) CountTokens(text string) (int, error) {
	if t := f.active(); t == f.secondary {
		return t.CountTokens(text)
	}
	n, err := f.primary.CountTokens(text)
	if err != nil {
		f.markFailed()
		return f.secondary.CountTokens(text)
	}
	return n, nil
}

func (f *Fallback) CountMessages(messages []Message) (int, error) {
	if t := f.active(); t == f.secondary {
		return t.CountMessages(messages)
	}
	n, err := f.primary.CountMessages(messages)
	if err != nil {
		f.markFailed()
		return f.secondary.CountMessages(messages)
	}
	return n, nil
}

func (f *Fallback) MaxTokens() int {
	return f.primary.MaxTokens()
}

// Name reports the tokenizer currently in use.
func (f *Fallback) Name() string {
	return f.active().Name()
}

// Estimator approximates BPE counts for the text this module sends: English
// prose, JSON and "METHOD /path" endpoint listings. A run of letters or
// digits costs one token per four characters, every punctuation or symbol
// character costs one, whitespace is folded into the following word, and each
// Han, kana or Hangul character costs one.
type Estimator struct {
	model     string
	maxTokens int
}

// NewEstimator creates an estimator. A non-positive maxTokens becomes 4096.
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Estimator{model: model, maxTokens: maxTokens}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	total, run := 0, 0
	flush := func() {
		if run > 0 {
			total += (run + 3) / 4
			run = 0
		}
	}
	for _, r := range text {
		switch {
		case isIdeograph(r):
			flush()
			total++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			run++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			total++
		}
	}
	flush()
	return total, nil
}

// CountMessages uses the same framing as TiktokenTokenizer: four tokens per
// message, one for the role name, three to close the conversation.
func (e *Estimator) CountMessages(messages []Message) (int, error) {
	total := 3
	for _, msg := range messages {
		n, _ := e.CountTokens(msg.Content)
		total += n + 5
	}
	return total, nil
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }

func (e *Estimator) Name() string { return "estimator" }

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

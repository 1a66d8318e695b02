package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer为OpenAI-家庭模型改造tiktoken.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// 模型编码将模型名称映射到其tiktoken编码和上下文大小。
var modelEncodings = map[string]encodingInfo{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4-32k":     {encoding: "cl100k_base", maxTokens: 32768},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// lookupEncoding returns the exact entry, else the longest matching prefix,
// else cl100k_base with an 8k window.
func lookupEncoding(model string) encodingInfo {
	if info, ok := modelEncodings[model]; ok {
		return info
	}
	best, bestLen := encodingInfo{encoding: "cl100k_base", maxTokens: 8192}, 0
	for prefix, info := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = info, len(prefix)
		}
	}
	return best
}

// NewTiktokenTokenizer为给定型号创建了以tiktoken为主的代号.
// 编码数据在首次计数时加载。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info := lookupEncoding(model)
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init lazily 初始化 tiktoken 编码(可以在第一次使用时下载数据).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

package runtime

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

func encodingFor(model string) *tiktoken.Tiktoken {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return cached
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// cl100k_base approximates well enough for windowing decisions,
		// including non-OpenAI models.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	encodingCache[model] = encoding
	return encoding
}

// EstimateTokens approximates the prompt size of a message list, with a
// small per-message overhead for role framing. Used when the provider
// reported no usage.
func EstimateTokens(model string, messages []protocol.Message) int {
	encoding := encodingFor(model)
	if encoding == nil {
		return 0
	}

	const perMessageOverhead = 4
	total := 0
	for _, message := range messages {
		total += perMessageOverhead
		total += len(encoding.Encode(message.Text(), nil, nil))
		for _, call := range message.ToolCalls {
			total += len(encoding.Encode(call.Name, nil, nil))
			total += len(encoding.Encode(call.Arguments, nil, nil))
		}
	}
	return total
}

package llm

import (
	"encoding/json"

	"github.com/openai/openai-go/v3"

	"govchat/model"
)

// ConvertToOpenAIMessages converts transcript messages to OpenAI format.
// Tool results travel as user messages: every backend accepts them that
// way, and the transcript already labels them for the model.
func ConvertToOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case model.RoleAssistant:
			result[i] = openai.AssistantMessage(msg.Content)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}

	return result
}

// ParseToolArguments parses a JSON arguments string into a map. Unparseable
// arguments yield an empty map rather than an error; the tool itself will
// reject bad input with a message the model can react to.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return make(map[string]any)
	}
	return args
}

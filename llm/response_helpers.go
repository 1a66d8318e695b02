package llm

import "fmt"

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// Content returns the content of the first choice, or an ErrEmptyResponse
// error tagged with the response's provider.
func Content(resp *ChatResponse) (string, error) {
	choice, err := FirstChoice(resp)
	if err != nil {
		provider := ""
		if resp != nil {
			provider = resp.Provider
		}
		return "", &Error{Code: ErrEmptyResponse, Message: err.Error(), Provider: provider}
	}
	return choice.Message.Content, nil
}

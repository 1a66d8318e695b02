// Package openaicompat implements llm.Provider against the OpenAI Chat
// Completions API and services that mirror it.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4",
//	}, logger)
package openaicompat

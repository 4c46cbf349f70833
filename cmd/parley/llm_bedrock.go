//go:build bedrock

package main

import (
	"log/slog"

	"parley/internal/adapter/llm"
	"parley/internal/domain"
	"parley/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}

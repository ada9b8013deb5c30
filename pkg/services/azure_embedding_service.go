package services

import (
	"context"

	"returns-chat-api/pkg/azure"
)

// AzureEmbeddingService Azure OpenAI Embedding APIを使ったEmbeddingProvider実装
type AzureEmbeddingService struct {
	client *azure.OpenAIClient
}

// NewAzureEmbeddingService は新しいAzureEmbeddingServiceを作成します。
func NewAzureEmbeddingService(endpoint, apiKey, apiVersion, embeddingDeploymentName string) *AzureEmbeddingService {
	return &AzureEmbeddingService{
		client: azure.NewOpenAIClient(endpoint, apiKey, apiVersion, embeddingDeploymentName),
	}
}

// Embed テキストのベクトル表現を生成します。
func (s *AzureEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.client.CreateEmbedding(ctx, text)
}

// Dimensions text-embedding-3-smallの次元数を返します。
func (s *AzureEmbeddingService) Dimensions() int {
	return 1536
}

package config

import (
	"os"
)

// Config holds the application configuration
type Config struct {
	Port                               string
	APIKey                             string
	DBPath                             string
	ReportsDir                         string
	AzureOpenAIEndpoint                string
	AzureOpenAIAPIKey                  string
	AzureOpenAIAPIVersion              string
	AzureOpenAIEmbeddingDeploymentName string
	QdrantURL                          string
	QdrantAPIKey                       string
	Environment                        string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:                               getEnv("PORT", "8080"),
		APIKey:                             getEnv("API_KEY", ""),
		DBPath:                             getEnv("DB_PATH", "data/returns.db"),
		ReportsDir:                         getEnv("REPORTS_DIR", "reports"),
		AzureOpenAIEndpoint:                getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureOpenAIAPIKey:                  getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIAPIVersion:              getEnv("AZURE_OPENAI_API_VERSION", "2023-12-01-preview"),
		AzureOpenAIEmbeddingDeploymentName: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT_NAME", "text-embedding-3-small"),
		QdrantURL:                          getEnv("QDRANT_URL", ""),
		QdrantAPIKey:                       getEnv("QDRANT_API_KEY", ""),
		Environment:                        getEnv("ENVIRONMENT", "development"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

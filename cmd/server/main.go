package main

import (
	"log"
	"net/http"

	config "returns-chat-api/configs"
	"returns-chat-api/pkg/handlers"
	"returns-chat-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	// 設定の読み込み
	cfg := config.LoadConfig()

	// Ginルーターの初期化
	r := gin.Default()

	// サービスの初期化
	store, err := services.NewReturnStoreService(cfg.DBPath)
	if err != nil {
		log.Fatalf("返品ストアの初期化に失敗しました: %v", err)
	}
	defer store.Close()

	reportService := services.NewReportService(store, cfg.ReportsDir)
	forecastService := services.NewForecastService(store)
	ingestService := services.NewCSVIngestService(store)

	// 埋め込みプロバイダ: Azure OpenAIが設定されていればそちらを、なければローカルを使う
	var embedder services.EmbeddingProvider
	if cfg.AzureOpenAIEndpoint != "" && cfg.AzureOpenAIAPIKey != "" {
		embedder = services.NewAzureEmbeddingService(
			cfg.AzureOpenAIEndpoint,
			cfg.AzureOpenAIAPIKey,
			cfg.AzureOpenAIAPIVersion,
			cfg.AzureOpenAIEmbeddingDeploymentName,
		)
		log.Println("埋め込みプロバイダ: Azure OpenAI")
	} else {
		embedder = services.NewLocalEmbedder()
		log.Println("埋め込みプロバイダ: ローカル（決定的ハッシュ投影）")
	}

	// セマンティックインデックス: QDRANT_URLが設定されていればQdrantを、なければメモリ上のインデックスを使う
	var index services.SemanticIndex
	if cfg.QdrantURL != "" {
		qdrantIndex, err := services.NewVectorStoreService(store, embedder, cfg.QdrantURL, cfg.QdrantAPIKey)
		if err != nil {
			log.Fatalf("VectorStoreServiceの初期化に失敗しました: %v", err)
		}
		index = qdrantIndex
		log.Println("セマンティックインデックス: Qdrant")
	} else {
		index = services.NewRetrievalService(store, embedder)
		log.Println("セマンティックインデックス: メモリ上のコサイン類似度インデックス")
	}

	coordinator := services.NewCoordinatorService(store, reportService, forecastService, index)

	// ハンドラーの初期化
	chatHandler := handlers.NewChatHandler(coordinator)
	returnsHandler := handlers.NewReturnsHandler(store, ingestService)
	analyticsHandler := handlers.NewAnalyticsHandler(reportService, forecastService, index)

	// ミドルウェアの登録
	r.Use(cors.Default())

	// 認証ミドルウェア
	authMiddleware := func(apiKey string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if apiKey == "" {
				c.Next()
				return
			}
			providedKey := c.GetHeader("X-API-KEY")
			if providedKey != apiKey {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
		}
	}

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(cfg.APIKey))
	{
		// 会話API
		chat := v1.Group("/chat")
		{
			chat.POST("/message", chatHandler.HandleMessage)
			chat.DELETE("/session/:sessionId", chatHandler.ResetSession)
		}

		// 返品データAPI
		returns := v1.Group("/returns")
		{
			returns.POST("", returnsHandler.InsertReturn)
			returns.POST("/import", returnsHandler.ImportCSV)
			returns.GET("/report", analyticsHandler.GetReport)
			returns.GET("/forecast", analyticsHandler.GetForecast)
			returns.GET("/search", analyticsHandler.SearchReturns)
		}
	}

	log.Printf("Starting Returns Chat-API server on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

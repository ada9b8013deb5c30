package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"returns-chat-api/pkg/models"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const returnsCollectionName = "returns_records"

// VectorStoreService Qdrantをバックエンドに使うSemanticIndex実装。
// Rebuildのたびにコレクションを削除して作り直します（毎回ゼロから構築する契約のため）。
type VectorStoreService struct {
	qdrantClient            qdrant.PointsClient
	qdrantCollectionsClient qdrant.CollectionsClient
	embedder                EmbeddingProvider
	store                   *ReturnStoreService
	built                   bool
}

// NewVectorStoreService はQdrantへのgRPC接続を確立してVectorStoreServiceを返します。
func NewVectorStoreService(store *ReturnStoreService, embedder EmbeddingProvider, qdrantURL, qdrantAPIKey string) (*VectorStoreService, error) {
	// APIキーの有無で、Cloud接続(TLS+APIキー)とローカル接続(非セキュア)を切り替える
	var dialOpts []grpc.DialOption
	if qdrantAPIKey != "" {
		log.Println("Qdrant Cloud (TLS) への接続を準備します...")
		creds := credentials.NewTLS(&tls.Config{})
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))

		authInterceptor := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			ctx = metadata.AppendToOutgoingContext(ctx, "api-key", qdrantAPIKey)
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(authInterceptor))
	} else {
		log.Println("ローカルのQdrant (非TLS) への接続を準備します...")
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(qdrantURL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("QdrantへのgRPCクライアント作成に失敗: %w", err)
	}

	return &VectorStoreService{
		qdrantClient:            qdrant.NewPointsClient(conn),
		qdrantCollectionsClient: qdrant.NewCollectionsClient(conn),
		embedder:                embedder,
		store:                   store,
	}, nil
}

// Rebuild はコレクションを作り直し、全返品レコードを埋め込んでアップサートします。
func (s *VectorStoreService) Rebuild(ctx context.Context) error {
	if err := s.recreateCollection(ctx); err != nil {
		return err
	}

	records, err := s.store.ListAll()
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		vector, err := s.embedder.Embed(ctx, composeRecordText(r))
		if err != nil {
			return fmt.Errorf("レコードID %d の埋め込みに失敗: %w", r.ID, err)
		}

		payload := map[string]*qdrant.Value{
			"text":        {Kind: &qdrant.Value_StringValue{StringValue: r.Reason}},
			"product":     {Kind: &qdrant.Value_StringValue{StringValue: r.ProductName}},
			"store":       {Kind: &qdrant.Value_StringValue{StringValue: r.StoreName}},
			"price":       {Kind: &qdrant.Value_DoubleValue{DoubleValue: r.Price}},
			"currency":    {Kind: &qdrant.Value_StringValue{StringValue: r.Currency}},
			"return_date": {Kind: &qdrant.Value_StringValue{StringValue: r.ReturnDate.Format(models.DateLayout)}},
		}

		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: uuid.New().String()},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: vector},
				},
			},
			Payload: payload,
		})
	}

	if len(points) > 0 {
		waitUpsert := true
		_, err = s.qdrantClient.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: returnsCollectionName,
			Points:         points,
			Wait:           &waitUpsert,
		})
		if err != nil {
			return fmt.Errorf("Qdrantへのベクトル保存に失敗: %w", err)
		}
	}

	s.built = true
	log.Printf("🔍 Qdrantのインデックスを再構築しました: %d 件", len(points))
	return nil
}

// Search はクエリテキストに類似した返品レコードをQdrantから検索します。
func (s *VectorStoreService) Search(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if !s.built {
		return nil, models.ErrIndexNotBuilt
	}

	queryVector, err := s.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("クエリテキストのベクトル化に失敗: %w", err)
	}

	topK := query.TopK
	if topK <= 0 {
		topK = 3
	}

	withPayload := true
	searchResult, err := s.qdrantClient.Search(ctx, &qdrant.SearchPoints{
		CollectionName: returnsCollectionName,
		Vector:         queryVector,
		Limit:          uint64(topK),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: withPayload}},
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrantでのベクトル検索に失敗: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(searchResult.GetResult()))
	for _, point := range searchResult.GetResult() {
		payload := point.GetPayload()
		results = append(results, models.RetrievalResult{
			Content: getStringFromPayload(payload, "text"),
			Score:   float64(point.GetScore()),
			Metadata: map[string]interface{}{
				"product":     getStringFromPayload(payload, "product"),
				"store":       getStringFromPayload(payload, "store"),
				"price":       getFloatFromPayload(payload, "price"),
				"currency":    getStringFromPayload(payload, "currency"),
				"return_date": getStringFromPayload(payload, "return_date"),
			},
		})
	}

	log.Printf("'%s' に類似した %d 件の結果をQdrantから取得しました。", query.Query, len(results))
	return results, nil
}

// recreateCollection 既存のコレクションを削除してから作り直します。
func (s *VectorStoreService) recreateCollection(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.qdrantCollectionsClient.List(listCtx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("Qdrantのコレクションリスト取得に失敗: %w", err)
	}

	for _, collection := range res.GetCollections() {
		if collection.GetName() == returnsCollectionName {
			delCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := s.qdrantCollectionsClient.Delete(delCtx, &qdrant.DeleteCollection{
				CollectionName: returnsCollectionName,
			})
			cancel()
			if err != nil {
				return fmt.Errorf("Qdrantのコレクション削除に失敗: %w", err)
			}
			break
		}
	}

	createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = s.qdrantCollectionsClient.Create(createCtx, &qdrant.CreateCollection{
		CollectionName: returnsCollectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(s.embedder.Dimensions()),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("Qdrantのコレクション作成に失敗: %w", err)
	}

	return nil
}

// getStringFromPayload ペイロードから文字列値を取得するヘルパー関数
func getStringFromPayload(payload map[string]*qdrant.Value, key string) string {
	if val, ok := payload[key]; ok && val != nil {
		if strVal := val.GetStringValue(); strVal != "" {
			return strVal
		}
	}
	return ""
}

// getFloatFromPayload ペイロードから数値を取得するヘルパー関数
func getFloatFromPayload(payload map[string]*qdrant.Value, key string) float64 {
	if val, ok := payload[key]; ok && val != nil {
		if doubleVal := val.GetDoubleValue(); doubleVal != 0 {
			return doubleVal
		}
		if intVal := val.GetIntegerValue(); intVal != 0 {
			return float64(intVal)
		}
	}
	return 0
}

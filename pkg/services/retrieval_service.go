package services

import (
	"context"
	"fmt"
	"log"
	"sort"

	"returns-chat-api/pkg/models"
)

// SemanticIndex 返品レコードのベクトルインデックスのインターフェース。
// RebuildはSearchの前に必ず呼ばれている必要があります。
type SemanticIndex interface {
	Rebuild(ctx context.Context) error
	Search(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error)
}

// RetrievalService 返品レコード全件をその場で埋め込み、メモリ上のコサイン類似度
// インデックスを毎回ゼロから構築します。インクリメンタル更新は行いません。
type RetrievalService struct {
	store    *ReturnStoreService
	embedder EmbeddingProvider

	built   bool
	vectors [][]float32
	records []models.ReturnRecord
}

// NewRetrievalService は新しいRetrievalServiceを作成します。
func NewRetrievalService(store *ReturnStoreService, embedder EmbeddingProvider) *RetrievalService {
	return &RetrievalService{store: store, embedder: embedder}
}

// Rebuild は全レコードの複合テキストを埋め込み直し、インデックスを作り直します。
func (s *RetrievalService) Rebuild(ctx context.Context) error {
	records, err := s.store.ListAll()
	if err != nil {
		return err
	}

	vectors := make([][]float32, 0, len(records))
	for _, r := range records {
		vec, err := s.embedder.Embed(ctx, composeRecordText(r))
		if err != nil {
			return fmt.Errorf("レコードID %d の埋め込みに失敗: %w", r.ID, err)
		}
		vectors = append(vectors, vec)
	}

	s.records = records
	s.vectors = vectors
	s.built = true

	log.Printf("🔍 セマンティックインデックスを再構築しました: %d 件", len(records))
	return nil
}

// Search はクエリを埋め込み、コサイン類似度の降順で最大TopK件を返します。
// Rebuildが一度も呼ばれていない場合はErrIndexNotBuiltを返します。
func (s *RetrievalService) Search(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievalResult, error) {
	if !s.built {
		return nil, models.ErrIndexNotBuilt
	}
	if len(s.records) == 0 {
		return []models.RetrievalResult{}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("クエリの埋め込みに失敗: %w", err)
	}

	type scored struct {
		record models.ReturnRecord
		score  float64
	}
	results := make([]scored, 0, len(s.records))
	for i, r := range s.records {
		results = append(results, scored{record: r, score: cosineSimilarity(queryVec, s.vectors[i])})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	topK := query.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}

	out := make([]models.RetrievalResult, 0, topK)
	for _, r := range results[:topK] {
		out = append(out, models.RetrievalResult{
			Content: r.record.Reason,
			Score:   r.score,
			Metadata: map[string]interface{}{
				"product":     r.record.ProductName,
				"store":       r.record.StoreName,
				"price":       r.record.Price,
				"currency":    r.record.Currency,
				"return_date": r.record.ReturnDate.Format(models.DateLayout),
			},
		})
	}
	return out, nil
}

// composeRecordText インデックス対象となるレコードの複合テキストを組み立てます。
func composeRecordText(r models.ReturnRecord) string {
	return fmt.Sprintf("Product: %s. Store: %s. Reason: %s. Price: %v %s.",
		r.ProductName, r.StoreName, r.Reason, r.Price, r.Currency)
}

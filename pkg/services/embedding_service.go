package services

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// EmbeddingProvider テキストをベクトル化するプロバイダのインターフェース。
// ネットワーク接続が不要なLocalEmbedderと、Azure OpenAIクライアントの2実装があります。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// LocalEmbedder トークンのハッシュ投影によるオフラインの決定的埋め込み。
// 同じテキストからは常に同じベクトルが生成されます。外部サービスへの依存はありません。
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder は新しいLocalEmbedderを作成します。
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dims: 256}
}

// Dimensions ベクトルの次元数を返します。
func (e *LocalEmbedder) Dimensions() int {
	return e.dims
}

// Embed はテキストをトークン化し、各トークンをハッシュでバケットに割り当てて
// 出現頻度ベクトルを作り、L2正規化して返します。
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := int(h.Sum32()) % e.dims
		if idx < 0 {
			idx += e.dims
		}
		vec[idx]++
	}

	// L2正規化（ゼロベクトルはそのまま返す）
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec, nil
}

// tokenize 小文字化して英数字以外の文字で分割します。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// cosineSimilarity 2つのベクトルのコサイン類似度を計算します。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

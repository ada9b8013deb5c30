package main

import (
	"flag"
	"log"

	"returns-chat-api/pkg/services"
)

// 過去の返品データをCSVから一括登録するユーティリティ。
// 重複行と解析できない行はスキップされます。
func main() {
	csvPath := flag.String("csv", "", "取り込むCSVファイルのパス")
	dbPath := flag.String("db", "data/returns.db", "SQLiteデータベースのパス")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("usage: ingest -csv <path/to/returns.csv> [-db <path/to/returns.db>]")
	}

	store, err := services.NewReturnStoreService(*dbPath)
	if err != nil {
		log.Fatalf("返品ストアの初期化に失敗しました: %v", err)
	}
	defer store.Close()

	ingest := services.NewCSVIngestService(store)
	inserted, err := ingest.IngestFile(*csvPath)
	if err != nil {
		log.Fatalf("CSV取り込みに失敗しました: %v", err)
	}

	log.Printf("完了: %d 件を登録しました", inserted)
}

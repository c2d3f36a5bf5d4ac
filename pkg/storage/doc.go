// Package storage は投稿の添付ファイルを保存するストレージ実装を提供する。
//
// S3互換オブジェクトストレージ（MinIO等）とローカルディスクの2つの実装を持ち、
// postサービスが環境変数に応じて選択する。
package storage

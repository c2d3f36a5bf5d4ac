// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、サービスキーとJWTの二重認証、
// CORS設定、パニックリカバリなど、全サービスで共通して使用するミドルウェアを含む。
package middleware

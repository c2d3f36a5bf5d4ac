// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// postサービスからnotificationサービスへの通知作成依頼、
// notificationサービスからauth・postサービスへの問い合わせなど、
// サービス間の通信パターンを統一する。
package httpclient

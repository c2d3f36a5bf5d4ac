// Package auth は認証サービスの内部実装を提供する。
//
// メールアドレスとパスワードによるサインアップ・サインイン、JWTの発行、
// および通知ファンアウトが宛先解決に使用するユーザーディレクトリを提供する。
package auth

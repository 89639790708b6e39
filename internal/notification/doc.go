// Package notification は通知サービスの内部実装を提供する。
//
// 投稿サービスから届くドメインイベント（投稿作成・いいね）を受け取り、
// 宛先ユーザーごとに通知を永続化したうえで、そのユーザーが接続中の
// すべてのWebSocketセッションへプッシュする。
//
// 構成要素:
//   - Store: 通知と購読者の永続化（SQLite / MongoDB）
//   - Registry: ユーザーごとの配信グループ（接続中セッションの集合）
//   - Session: 1本のWebSocket接続のライフサイクルと送信キュー
//   - Engine: イベントから宛先を求め、永続化してから配信するファンアウト処理
//   - Server: 通知の参照・既読化API、イベント受信API、WebSocketエンドポイント
//
// プッシュはベストエフォートであり、取りこぼした通知は一覧APIから取得できる。
package notification

// Package httpclient は他サービスのJSON APIを呼び出すクライアントを提供する。
//
// 通知サービスでは、作成した通知の記録をEvent Storeへ送るために使う。
package httpclient

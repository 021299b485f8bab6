package views

// ProviderLinks はログイン画面に表示する外部認証ボタンの有無です。
type ProviderLinks struct {
	Google   bool
	Facebook bool
}

// EntryView は一覧画面に表示する日記1件です。
type EntryView struct {
	Task string
}

// Page は全テンプレート共通の描画データです。
type Page struct {
	Title         string
	Authenticated bool
	CSRFToken     string
	Providers     ProviderLinks
	Date          string
	Entries       []EntryView
	Message       string
}

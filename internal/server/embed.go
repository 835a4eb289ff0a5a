package server

import (
	"embed"
	"fmt"
)

//go:embed static/index.html
var embedFS embed.FS

// indexHTML は埋め込まれた閲覧ページを返す
func indexHTML() ([]byte, error) {
	data, err := embedFS.ReadFile("static/index.html")
	if err != nil {
		return nil, fmt.Errorf("埋め込みindex.htmlの読み込みに失敗: %w", err)
	}
	return data, nil
}

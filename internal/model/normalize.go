package model

import "strings"

// stopWords は名前正規化で除去されるストップワード。
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "of": {},
	"a": {}, "an": {}, "in": {}, "for": {}, "to": {},
}

// NormalizeNameKey は食品名を比較用のキーに正規化する。
// 小文字化し、英数字以外を空白に置換し、空白で分割した上で
// ストップワードを除去し、残ったトークンを空白1つで連結する。
// 正規化の結果が空になる場合は空文字列を返す。
func NormalizeNameKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, token := range tokens {
		if _, skip := stopWords[token]; skip {
			continue
		}
		kept = append(kept, token)
	}

	return strings.Join(kept, " ")
}

// NameTokens は正規化済みキーをトークンに分割して返す。
func NameTokens(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, " ")
}

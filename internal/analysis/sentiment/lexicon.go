package sentiment

import (
	_ "embed"
	"strconv"
	"strings"
)

// afinn165.txt 为 AFINN-165 词表，每行 "word<TAB>weight"，权重范围 -5..5。
//
//go:embed afinn165.txt
var afinnData string

var lexicon = parseLexicon(afinnData)

// 与 npm sentiment 的英文否定词一致。
var negations = map[string]struct{}{
	"cant": {}, "can't": {}, "dont": {}, "don't": {}, "doesnt": {}, "doesn't": {},
	"not": {}, "non": {}, "wont": {}, "won't": {}, "isnt": {}, "isn't": {},
}

// parseLexicon 解析 "word<TAB>weight" 格式的词表，跳过空行和无法解析的行。
func parseLexicon(data string) map[string]int {
	out := make(map[string]int, strings.Count(data, "\n")+1)
	for _, line := range strings.Split(data, "\n") {
		word, raw, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok || word == "" {
			continue
		}
		weight, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		out[strings.ToLower(word)] = weight
	}
	return out
}

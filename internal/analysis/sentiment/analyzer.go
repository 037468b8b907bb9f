package sentiment

import "strings"

// Scorer maps text to a signed sentiment score. Negative means distress.
type Scorer interface {
	Score(text string) float64
}

// Result 给出一次分析的得分明细。
type Result struct {
	Score       float64
	Comparative float64
	Tokens      int
	Positive    []string
	Negative    []string
}

// Analyzer scores text against a word-weight lexicon.
type Analyzer struct {
	lexicon   map[string]int
	negations map[string]struct{}
}

// NewAnalyzer returns an Analyzer over the built-in English lexicon.
func NewAnalyzer() *Analyzer {
	return &Analyzer{lexicon: lexicon, negations: negations}
}

// NewAnalyzerWithLexicon overlays extra word weights on the built-in lexicon.
func NewAnalyzerWithLexicon(extra map[string]int) *Analyzer {
	merged := make(map[string]int, len(lexicon)+len(extra))
	for word, weight := range lexicon {
		merged[word] = weight
	}
	for word, weight := range extra {
		merged[strings.ToLower(word)] = weight
	}
	return &Analyzer{lexicon: merged, negations: negations}
}

// Score implements Scorer.
func (a *Analyzer) Score(text string) float64 {
	return a.Analyze(text).Score
}

// Analyze 统计文本中命中的情感词并累计得分。否定词会翻转紧随其后的词的得分。
func (a *Analyzer) Analyze(text string) Result {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Result{}
	}

	var result Result
	result.Tokens = len(tokens)
	for i, token := range tokens {
		weight, ok := a.lexicon[token]
		if !ok {
			continue
		}
		if i > 0 {
			if _, negated := a.negations[tokens[i-1]]; negated {
				weight = -weight
			}
		}

		if weight > 0 {
			result.Positive = append(result.Positive, token)
		} else if weight < 0 {
			result.Negative = append(result.Negative, token)
		}
		result.Score += float64(weight)
	}

	result.Comparative = result.Score / float64(len(tokens))
	return result
}

var punctuation = strings.NewReplacer(
	".", " ", ",", " ", "/", " ", "#", " ", "!", " ", "?", " ", "$", " ", "%", " ",
	"^", " ", "&", " ", "*", " ", ";", " ", ":", " ", "{", " ", "}", " ", "=", " ",
	"_", " ", "`", " ", "\"", " ", "~", " ", "(", " ", ")", " ", "’", "'",
)

func tokenize(text string) []string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	return strings.Fields(punctuation.Replace(normalized))
}

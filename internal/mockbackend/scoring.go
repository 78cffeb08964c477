// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_mockbackend

import (
	"bytes"
	"math"
	"regexp"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"

	internal_codec "github.com/interviewx/client/internal/audio/codec"
)

var (
	transitionWords = map[string]bool{
		"first": true, "second": true, "third": true, "finally": true, "however": true,
		"therefore": true, "furthermore": true, "moreover": true, "additionally": true,
		"consequently": true,
	}
	depthWords = map[string]bool{
		"experience": true, "project": true, "team": true, "challenge": true, "solution": true,
		"result": true, "learned": true, "achieved": true, "improved": true, "developed": true,
		"managed": true, "led": true, "collaborated": true, "implemented": true,
		"created": true, "designed": true, "analyzed": true,
	}
	exampleIndicators = []string{
		"example", "instance", "specifically", "particular", "case", "situation",
	}
	professionalWords = map[string]bool{
		"leadership": true, "collaboration": true, "innovation": true, "strategic": true,
		"analytical": true, "communication": true, "teamwork": true, "initiative": true,
		"responsibility": true, "achievement": true, "development": true, "improvement": true,
		"efficiency": true, "quality": true, "project": true, "management": true,
		"experience": true, "skills": true, "expertise": true,
	}
	informalWords = map[string]bool{
		"yeah": true, "yep": true, "nope": true, "gonna": true, "wanna": true,
		"kinda": true, "sorta": true, "dunno": true,
	}
	numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?`)
)

// TextScore is the deterministic evaluation of a written answer. Every
// score is in [0,100].
type TextScore struct {
	Relevance         float64
	Clarity           float64
	TechnicalAccuracy float64
	Depth             float64
	Overall           float64
	Covered           []string
	Missing           []string
	Feedback          string
}

// ScoreText rates text against the expected keywords of its question.
// Relevance is keyword coverage when keywords exist and answer length
// otherwise; clarity rewards structure; technical accuracy rewards
// professional vocabulary; depth rewards concrete examples and figures.
func ScoreText(text string, keywords []string) TextScore {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(words) == 0 {
		return TextScore{Missing: append([]string(nil), keywords...), Feedback: "No answer was given."}
	}

	var score TextScore
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			score.Covered = append(score.Covered, k)
		} else {
			score.Missing = append(score.Missing, k)
		}
	}
	if len(keywords) > 0 {
		score.Relevance = 100 * float64(len(score.Covered)) / float64(len(keywords))
	} else {
		score.Relevance = math.Min(100, float64(2*len(words)))
	}

	sentences := sentenceCount(text)
	clarity := 50.0
	switch {
	case sentences >= 3 && sentences <= 8:
		clarity += 20
	case sentences < 3:
		clarity -= 10
	}
	transitions := 0
	for _, w := range words {
		if transitionWords[w] {
			transitions++
		}
	}
	clarity += math.Min(20, 200*float64(transitions)/float64(sentences))
	if strings.Contains(lower, "first") || strings.Contains(lower, "1.") {
		clarity += 10
	}
	if strings.Contains(lower, "second") || strings.Contains(lower, "2.") {
		clarity += 10
	}
	if strings.Contains(lower, "conclusion") || strings.Contains(lower, "finally") || strings.Contains(lower, "summary") {
		clarity += 10
	}
	score.Clarity = clamp(clarity)

	professional, informal := 0, 0
	for _, w := range words {
		if professionalWords[w] {
			professional++
		}
		if informalWords[w] {
			informal++
		}
	}
	n := float64(len(words))
	score.TechnicalAccuracy = clamp(70 + math.Min(20, 200*float64(professional)/n) - 50*float64(informal)/n)

	depth := 0
	for _, w := range words {
		if depthWords[w] {
			depth++
		}
	}
	examples := 0
	for _, e := range exampleIndicators {
		if strings.Contains(lower, e) {
			examples++
		}
	}
	figures := len(numberPattern.FindAllString(text, -1))
	score.Depth = clamp(40 + math.Min(30, 1000*float64(depth)/n) + math.Min(20, 10*float64(examples)) + math.Min(10, 2*float64(figures)))

	score.Overall = round1(0.35*score.Relevance + 0.25*score.Clarity + 0.2*score.TechnicalAccuracy + 0.2*score.Depth)
	score.Relevance = round1(score.Relevance)
	score.Clarity = round1(score.Clarity)
	score.TechnicalAccuracy = round1(score.TechnicalAccuracy)
	score.Depth = round1(score.Depth)
	score.Feedback = feedback(score)
	return score
}

func feedback(s TextScore) string {
	var notes []string
	if len(s.Missing) > 0 {
		notes = append(notes, "Consider covering: "+strings.Join(s.Missing, ", ")+".")
	}
	if s.Depth < 60 {
		notes = append(notes, "Add a concrete example with measurable results.")
	}
	if s.Clarity < 60 {
		notes = append(notes, "Structure the answer in a few connected steps.")
	}
	if len(notes) == 0 {
		return "Clear, well-structured answer."
	}
	return strings.Join(notes, " ")
}

func sentenceCount(text string) int {
	n := 0
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' }) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// ScoreAudio rates a recording by loudness, penalising clipped samples.
// Silence scores 40 and a steady level at or above a tenth of full scale
// scores 100. The blob may be a WAV file or bare 16-bit PCM.
func ScoreAudio(blob []byte) float64 {
	pcm := blob
	if bytes.HasPrefix(blob, []byte("RIFF")) && len(blob) >= internal_codec.WAVHeaderSize {
		pcm = blob[internal_codec.WAVHeaderSize:]
	}
	samples := internal_codec.Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	clipped := 0
	for i, s := range samples {
		values[i] = float64(s)
		if s == math.MaxInt16 || s == math.MinInt16 {
			clipped++
		}
	}
	rms := floats.Norm(values, 2) / math.Sqrt(float64(len(values)))
	level := math.Min(1, rms/(0.1*math.MaxInt16))
	return round1(clamp(40 + 60*level - 100*float64(clipped)/float64(len(values))))
}

// ScoreFacial rates a video artifact. Without a vision model any non-empty
// artifact receives the same confidence.
func ScoreFacial(blob []byte) float64 {
	if len(blob) == 0 {
		return 0
	}
	return 85
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Package progress turns the human readable stderr of a model pull into
// structured progress records and a line classification.
package progress

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

type Kind int

const (
	Informational Kind = iota
	Progress
	Error
)

func (k Kind) String() string {
	switch k {
	case Informational:
		return "informational"
	case Progress:
		return "progress"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// DownloadProgress is the latest known state of one pull. Speed and ETA are
// nil when the line did not carry them.
type DownloadProgress struct {
	Percent    float64 `json:"percent"`
	Downloaded string  `json:"downloaded"`
	Total      string  `json:"total"`
	Speed      *string `json:"speed,omitempty"`
	ETA        *string `json:"eta,omitempty"`
}

// Classification is the result of Classify. Progress is set only for the
// Progress kind, Message only for Error. Anomaly is set when a line carried a
// percent token that could not be parsed.
type Classification struct {
	Kind     Kind
	Progress *DownloadProgress
	Message  string
	Anomaly  error
}

// Token offsets relative to the percent token, fixed by the pull output layout
const (
	downloadedOffset = 1
	totalOffset      = 3
	speedOffset      = 4
	etaOffset        = 5
)

var benignPhrases = []string{
	"writing manifest",
	"verifying",
	"success",
}

// pulling is benign only as the leading word of a status line
const benignPullingPrefix = "pulling "

var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// Sanitize removes terminal escape sequences and every character that is
// neither printable ASCII nor ASCII whitespace, then trims the result.
func Sanitize(raw string) string {
	stripped := ansiEscapeRegex.ReplaceAllString(raw, "")

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if (r > ' ' && r < 0x7f) || isASCIISpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Classify decides what a sanitized stderr line of a pull means
func Classify(line string) Classification {
	tokens := strings.Fields(line)

	for i, token := range tokens {
		if !strings.HasSuffix(token, "%") {
			continue
		}
		return classifyProgress(line, tokens, i)
	}

	if line == "" {
		return Classification{Kind: Informational}
	}
	if strings.HasPrefix(line, benignPullingPrefix) {
		return Classification{Kind: Informational}
	}
	for _, phrase := range benignPhrases {
		if strings.Contains(line, phrase) {
			return Classification{Kind: Informational}
		}
	}
	return Classification{Kind: Error, Message: line}
}

func classifyProgress(line string, tokens []string, i int) Classification {
	percent, err := strconv.ParseFloat(strings.TrimSuffix(tokens[i], "%"), 64)
	if err != nil {
		return anomaly("percent token is not numeric", line, err)
	}
	if percent < 0 || percent > 100 {
		return anomaly("percent out of range", line, nil)
	}
	if i+totalOffset >= len(tokens) {
		return anomaly("progress line is missing size tokens", line, nil)
	}

	p := &DownloadProgress{
		Percent:    percent,
		Downloaded: tokens[i+downloadedOffset],
		Total:      tokens[i+totalOffset],
		Speed:      optionalToken(tokens, i+speedOffset),
		ETA:        optionalToken(tokens, i+etaOffset),
	}
	return Classification{Kind: Progress, Progress: p}
}

func optionalToken(tokens []string, idx int) *string {
	if idx >= len(tokens) {
		return nil
	}
	value := tokens[idx]
	return &value
}

func anomaly(message, line string, cause error) Classification {
	return Classification{
		Kind:    Informational,
		Anomaly: errors.NewStreamParseError(message, cause).WithContext("line", line),
	}
}

// Parser couples Sanitize and Classify and logs parse anomalies
type Parser struct {
	logger logging.Logger
}

func NewParser(logger logging.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseLine sanitizes a raw stderr line and classifies it
func (p *Parser) ParseLine(id, raw string) Classification {
	line := Sanitize(raw)
	c := Classify(line)
	if c.Anomaly != nil {
		p.logger.Warnf("Progress line not parsed, id: %s, error: %v", id, c.Anomaly)
	}
	return c
}

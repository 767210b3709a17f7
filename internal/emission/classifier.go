package emission

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Message types pushed by the backend during an emission attempt.
const (
	// StatusMessageType carries free-text progress for the current attempt.
	StatusMessageType = "estadoFactura"
	// ResultMessageType carries the final outcome; it never changes the stage.
	ResultMessageType = "resultado-emision"
)

// DefaultTableVersion names the built-in keyword table.
const DefaultTableVersion = "builtin-1"

// Rule maps a keyword anchor, or an explicit status code, to a stage.
type Rule struct {
	Keyword string
	Code    string
	Stage   Stage
}

// DefaultRules returns the built-in keyword table. Order matters: the first
// matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{Keyword: "Firmando", Stage: StageSigning},
		{Keyword: "Enviando", Stage: StageSubmitting},
		{Keyword: "Validación", Stage: StageValidating},
		{Keyword: "validación", Stage: StageValidating},
	}
}

// Classifier maps status messages to stages. It is immutable once built and
// safe for concurrent use.
type Classifier struct {
	messageType string
	version     string
	rules       []Rule
}

// NewClassifier validates rules and builds a classifier for messageType.
func NewClassifier(messageType, version string, rules []Rule) (*Classifier, error) {
	if messageType == "" {
		messageType = StatusMessageType
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("keyword table is empty")
	}

	copied := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Keyword == "" && r.Code == "" {
			return nil, fmt.Errorf("rule %d: keyword or code is required", i)
		}
		if r.Stage < StageSigning || r.Stage > StageValidating {
			return nil, fmt.Errorf("rule %d: stage %s cannot be a target", i, r.Stage)
		}
		copied = append(copied, r)
	}

	return &Classifier{
		messageType: messageType,
		version:     version,
		rules:       copied,
	}, nil
}

// DefaultClassifier returns a classifier over DefaultRules.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(StatusMessageType, DefaultTableVersion, DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// MessageType returns the status tag this classifier reacts to.
func (c *Classifier) MessageType() string { return c.messageType }

// Version returns the keyword table version.
func (c *Classifier) Version() string { return c.version }

// Rules returns a copy of the keyword table.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the stage for text when messageType is the status tag and
// a keyword matches (case-sensitive substring, first match wins). The bool is
// false for anything unrecognized.
func (c *Classifier) Classify(messageType, text string) (Stage, bool) {
	return c.ClassifyCode(messageType, "", text)
}

// ClassifyCode is Classify with an explicit status code, which is checked
// against the rules' codes before any keyword matching.
func (c *Classifier) ClassifyCode(messageType, code, text string) (Stage, bool) {
	if c == nil || messageType != c.messageType {
		return StageNotStarted, false
	}

	if code != "" {
		for _, r := range c.rules {
			if r.Code != "" && r.Code == code {
				return r.Stage, true
			}
		}
	}

	// Servers that relay terminal output may leave color codes in the text.
	normalized := ansi.Strip(text)
	for _, r := range c.rules {
		if r.Keyword != "" && strings.Contains(normalized, r.Keyword) {
			return r.Stage, true
		}
	}
	return StageNotStarted, false
}

// Package i18n implements a small `${name}`-style message-table
// translator with plural selection.
//
// Grounded on original_source/src/lang.c's sorted message-id table and
// per-language plural-index rule, reworked around Go maps and the
// internal/resources embedded archive instead of compiled-in blobs.
package i18n

import (
	"strings"
)

// PluralRule selects which of a message's plural variants applies to n.
type PluralRule func(n int) int

var (
	// RuleNone always selects the first (and typically only) variant.
	RuleNone PluralRule = func(int) int { return 0 }
	// RuleNotEqualToOne covers English and most Germanic/Romance languages.
	RuleNotEqualToOne PluralRule = func(n int) int {
		if n == 1 {
			return 0
		}
		return 1
	}
	// RuleSlavic covers Russian-family plural selection.
	RuleSlavic PluralRule = func(n int) int {
		switch {
		case n%10 == 1 && n%100 != 11:
			return 0
		case n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20):
			return 1
		default:
			return 2
		}
	}
)

// Table holds one language's messages. A message may have multiple
// "||"-separated plural variants.
type Table struct {
	code     string
	messages map[string][]string
	rule     PluralRule
}

// NewTable constructs a translation table for the given language code.
func NewTable(code string, rule PluralRule) *Table {
	if rule == nil {
		rule = RuleNone
	}
	return &Table{code: code, messages: make(map[string][]string), rule: rule}
}

// Code returns the table's language code (e.g. "en", "fi", "ru").
func (t *Table) Code() string { return t.code }

// Load replaces the table's contents from id->"variant1||variant2" pairs.
func (t *Table) Load(entries map[string]string) {
	t.messages = make(map[string][]string, len(entries))
	for id, raw := range entries {
		t.messages[id] = strings.Split(raw, "||")
	}
}

// Get returns the message for id, or id itself if unknown (so missing
// translations degrade to a visible placeholder rather than an empty
// string).
func (t *Table) Get(id string) string {
	variants, ok := t.messages[id]
	if !ok || len(variants) == 0 {
		return id
	}
	return variants[0]
}

// GetN returns the plural-selected variant of id for count n.
func (t *Table) GetN(id string, n int) string {
	variants, ok := t.messages[id]
	if !ok || len(variants) == 0 {
		return id
	}
	idx := t.rule(n)
	if idx < 0 || idx >= len(variants) {
		idx = len(variants) - 1
	}
	return variants[idx]
}

// Format substitutes "${name}" placeholders in id's message using vars.
func (t *Table) Format(id string, vars map[string]string) string {
	return substitute(t.Get(id), vars)
}

// FormatN is Format with plural selection.
func (t *Table) FormatN(id string, n int, vars map[string]string) string {
	return substitute(t.GetN(id, n), vars)
}

func substitute(msg string, vars map[string]string) string {
	if len(vars) == 0 {
		return msg
	}
	var sb strings.Builder
	for i := 0; i < len(msg); {
		if msg[i] == '$' && i+1 < len(msg) && msg[i+1] == '{' {
			end := strings.IndexByte(msg[i+2:], '}')
			if end >= 0 {
				name := msg[i+2 : i+2+end]
				if v, ok := vars[name]; ok {
					sb.WriteString(v)
				} else {
					sb.WriteString("${" + name + "}")
				}
				i += 2 + end + 1
				continue
			}
		}
		sb.WriteByte(msg[i])
		i++
	}
	return sb.String()
}

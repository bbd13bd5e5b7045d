package i18n

import "testing"

func TestFormatSubstitution(t *testing.T) {
	tbl := NewTable("en", RuleNotEqualToOne)
	tbl.Load(map[string]string{"greeting": "Hello, ${name}!"})

	got := tbl.Format("greeting", map[string]string{"name": "Jan"})
	if got != "Hello, Jan!" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestMissingKeyFallsBackToID(t *testing.T) {
	tbl := NewTable("en", RuleNone)
	if got := tbl.Get("nothing.here"); got != "nothing.here" {
		t.Fatalf("expected fallback to id, got %q", got)
	}
}

func TestPluralSelection(t *testing.T) {
	tbl := NewTable("en", RuleNotEqualToOne)
	tbl.Load(map[string]string{"items": "one item||${n} items"})

	if got := tbl.FormatN("items", 1, map[string]string{"n": "1"}); got != "one item" {
		t.Fatalf("expected singular form, got %q", got)
	}
	if got := tbl.FormatN("items", 5, map[string]string{"n": "5"}); got != "5 items" {
		t.Fatalf("expected plural form, got %q", got)
	}
}

func TestSlavicPluralRule(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{1, 0}, {2, 1}, {4, 1}, {5, 2}, {11, 2}, {21, 0}, {25, 2},
	}
	for _, c := range cases {
		if got := RuleSlavic(c.n); got != c.want {
			t.Errorf("RuleSlavic(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

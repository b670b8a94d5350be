package validation

import (
	"strings"
	"testing"
)

func TestIsValidEthAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"0x1111111111111111111111111111111111111111", true},
		{"0xABCDEF1111111111111111111111111111111111", true},
		{"1111111111111111111111111111111111111111", true}, // prefix optional
		{"0x111", false},
		{"0xZZ11111111111111111111111111111111111111", false},
		{"", false},
		{"not an address", false},
	}
	for _, c := range cases {
		if got := IsValidEthAddress(c.addr); got != c.want {
			t.Errorf("IsValidEthAddress(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("trim: got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("truncate: got %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("null bytes: got %q", got)
	}
}

func TestSanitizeAddress(t *testing.T) {
	if got := SanitizeAddress("  0xABCDEF1111111111111111111111111111111111  "); got != "0xabcdef1111111111111111111111111111111111" {
		t.Errorf("normalize: got %q", got)
	}
	// Bare 40-char hex gets the prefix added.
	bare := strings.Repeat("a", 40)
	if got := SanitizeAddress(bare); got != "0x"+bare {
		t.Errorf("prefix: got %q", got)
	}
}

func TestValidWei(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"", true}, // optional
		{"0", true},
		{"1000000000000000000", true},
		{"-5", false},
		{"1.5", false},
		{"1e18", false},
		{"0xff", false},
	}
	for _, c := range cases {
		err := ValidWei("value", c.value)()
		if c.ok && err != nil {
			t.Errorf("ValidWei(%q) unexpectedly failed: %v", c.value, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidWei(%q) should fail", c.value)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("to", ""),
		ValidAddress("to", ""),
		ValidWei("value", "-1"),
		MaxLength("data", strings.Repeat("x", 10), 5),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "to" || errs[1].Field != "value" || errs[2].Field != "data" {
		t.Errorf("unexpected fields: %v", errs)
	}
	if !strings.Contains(errs.Error(), "to") {
		t.Errorf("Error() should name the first field, got %q", errs.Error())
	}

	if errs := Validate(Required("to", "0x1"), ValidWei("value", "5")); len(errs) != 0 {
		t.Errorf("valid input should produce no errors, got %v", errs)
	}
}

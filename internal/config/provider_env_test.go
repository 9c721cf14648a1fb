package config

import (
	"context"
	"testing"
)

func TestEnvVarProvider_GetParametersBatch(t *testing.T) {
	t.Setenv("LN_TEST_PRESENT", "value-1")
	t.Setenv("LN_TEST_BLANK", "")

	p := NewEnvVarProvider()
	got, err := p.GetParametersBatch(context.Background(), []string{
		"LN_TEST_PRESENT", "LN_TEST_BLANK", "LN_TEST_MISSING",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if got["LN_TEST_PRESENT"] != "value-1" {
		t.Errorf("present key = %q, want %q", got["LN_TEST_PRESENT"], "value-1")
	}
	// A blank value is still "provided".
	if v, ok := got["LN_TEST_BLANK"]; !ok || v != "" {
		t.Errorf("blank key: got (%q, %v), want (\"\", true)", v, ok)
	}
	if _, ok := got["LN_TEST_MISSING"]; ok {
		t.Errorf("missing key should be omitted from the result")
	}
}

package tracker

import (
	"slices"
	"testing"

	"github.com/smartshark/issuesync/internal/types"
)

func testSchema() *Schema {
	return &Schema{
		Issue: map[string]FieldSpec{
			"summary":     {Field: types.FieldTitle},
			"fixVersions": {Field: types.FieldFixVersions},
			"labels":      {Field: types.FieldLabels},
		},
		HistoryAliases:  map[string]string{"Fix Version": "fixVersions", "priority": "bug_priority"},
		TokenSeparators: map[types.Field]string{types.FieldLabels: " "},
	}
}

func TestSchemaHistoryField(t *testing.T) {
	s := testSchema()
	tests := []struct {
		raw    string
		want   types.Field
		wantOK bool
	}{
		{"summary", types.FieldTitle, true},
		{"Fix Version", types.FieldFixVersions, true},
		{"status", types.FieldStatus, true},
		{"Workflow", types.Field("Workflow"), false},
		{"priority", types.Field("bug_priority"), false},
	}
	for _, tt := range tests {
		got, ok := s.HistoryField(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("HistoryField(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSchemaTokens(t *testing.T) {
	s := testSchema()
	if got := s.Tokens(types.FieldLabels, Str("a  b c")); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Tokens(labels) = %v", got)
	}
	if got := s.Tokens(types.FieldFixVersions, Str("1.0 beta")); !slices.Equal(got, []string{"1.0 beta"}) {
		t.Errorf("Tokens(fix_versions) = %v", got)
	}
	if got := s.Tokens(types.FieldLabels, nil); got != nil {
		t.Errorf("Tokens(nil) = %v, want nil", got)
	}
}

func TestExternalEventID(t *testing.T) {
	s := testSchema()
	entry := RawHistoryEntry{ID: "1234", Seq: 7}
	if got := s.ExternalEventID(RawIssue{}, entry, 2); got != "1234%%2" {
		t.Errorf("default event id = %q, want %q", got, "1234%%2")
	}
	s.EventID = func(issue RawIssue, e RawHistoryEntry, i int) string { return issue.Key + "/" + e.ID }
	if got := s.ExternalEventID(RawIssue{Key: "9"}, entry, 0); got != "9/1234" {
		t.Errorf("custom event id = %q", got)
	}
}

func TestFallbackAndEmailOrNobody(t *testing.T) {
	s := testSchema()
	if p := s.Fallback("jdoe"); p.Name != "jdoe" || p.Email != "jdoe" {
		t.Errorf("default fallback = %+v", p)
	}
	if got := EmailOrNobody("jdoe@example.org"); got != "jdoe@example.org" {
		t.Errorf("EmailOrNobody(address) = %q", got)
	}
	if got := EmailOrNobody("jdoe"); got != NobodyEmail {
		t.Errorf("EmailOrNobody(username) = %q, want %q", got, NobodyEmail)
	}
}

func TestConfigEnvFallback(t *testing.T) {
	t.Setenv("BUGZILLA_API_KEY", "from-env")
	cfg := &Config{Prefix: "bugzilla"}
	if got := cfg.Get("api_key"); got != "from-env" {
		t.Errorf("Get(api_key) = %q, want from-env", got)
	}
	cfg.Extra = map[string]string{"api_key": "explicit"}
	if got := cfg.Get("api_key"); got != "explicit" {
		t.Errorf("Get(api_key) = %q, want explicit", got)
	}
	if _, err := cfg.GetRequired("missing"); err == nil {
		t.Error("GetRequired(missing) should fail")
	}
}

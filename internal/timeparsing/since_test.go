package timeparsing

import (
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	// Friday, March 15, 2024, noon
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input     string
		want      time.Time
		wantLayer Layer
	}{
		{"36h", now.Add(-36 * time.Hour), LayerLookback},
		{"7d", time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"-7d", time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"2w", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"1m", time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"1y", time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"0d", now, LayerLookback},
		{"  30d ", time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC), LayerLookback},
		{"2024-01-31", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), LayerAbsolute},
		{"2024-01-31 08:30", time.Date(2024, 1, 31, 8, 30, 0, 0, time.UTC), LayerAbsolute},
		{"2024-01-31T08:30:00", time.Date(2024, 1, 31, 8, 30, 0, 0, time.UTC), LayerAbsolute},
		{"2024-01-31T08:30:00+02:00", time.Date(2024, 1, 31, 6, 30, 0, 0, time.UTC), LayerAbsolute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input, now)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if !got.Time.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got.Time, tt.want)
			}
			if got.Layer != tt.wantLayer {
				t.Errorf("Parse(%q) layer = %v, want %v", tt.input, got.Layer, tt.wantLayer)
			}
		})
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input     string
		wantMonth time.Month
		wantDay   int
	}{
		{"yesterday", time.March, 14},
		{"3 days ago", time.March, 12},
		{"2 weeks ago", time.March, 1},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input, now)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got.Layer != LayerNatural {
				t.Errorf("Parse(%q) layer = %v, want natural", tt.input, got.Layer)
			}
			if got.Time.Year() != 2024 || got.Time.Month() != tt.wantMonth || got.Time.Day() != tt.wantDay {
				t.Errorf("Parse(%q) = %v, want %s %d", tt.input, got.Time, tt.wantMonth, tt.wantDay)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		wantMsg string
	}{
		{"", "empty"},
		{"   ", "empty"},
		{"+6h", "counts forward"},
		{"2030-01-01", "future"},
		{"tomorrow", "future"},
		{"5x", "unrecognized"},
		{"banana", "unrecognized"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input, now)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse(%q) error = %v, want it to mention %q", tt.input, err, tt.wantMsg)
			}
		})
	}
}

// Dates without a zone are midnight where the run happens, not in UTC.
func TestParseUsesLocationOfNow(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, est)

	got, err := ParseSince("2024-03-01", now)
	if err != nil {
		t.Fatalf("ParseSince failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseSince(\"2024-03-01\") = %v, want %v", got.UTC(), want)
	}
}

func TestLayerString(t *testing.T) {
	if got := LayerLookback.String(); got != "lookback" {
		t.Errorf("LayerLookback.String() = %q", got)
	}
	if got := Layer(9).String(); got != "Layer(9)" {
		t.Errorf("Layer(9).String() = %q", got)
	}
}

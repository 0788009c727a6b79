package core

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2024-07-15", "2024-07-15", false},
		{"2023-01-01", "2023-01-01", false},
		{" 2024-08-20 ", "2024-08-20", false},
		{"invalid", "", true},
		{"07/15/2024", "", true},
		{"2024-02-30", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDate))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseDateSpec(t *testing.T) {
	today := date("2024-07-15")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"exact date", "2024-07-15", "2024-07-15", false},
		{"today", "today", "2024-07-15", false},
		{"yesterday", "yesterday", "2024-07-14", false},
		{"relative d-1", "d-1", "2024-07-14", false},
		{"relative d-7", "d-7", "2024-07-08", false},
		{"relative w-1", "w-1", "2024-07-08", false},
		{"relative m-1", "m-1", "2024-06-15", false},
		{"relative y-1", "y-1", "2023-07-15", false},
		{"month/day in past", "7/1", "2024-07-01", false},
		{"month/day in future wraps to last year", "12/25", "2023-12-25", false},
		{"impossible month/day", "2/31", "", true},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateSpec(tt.input, today)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDateSpec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseDateSpec(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDateSpecLeapDay(t *testing.T) {
	tests := []struct {
		today   string
		input   string
		want    string
		wantErr bool
	}{
		{"2024-03-01", "2/29", "2024-02-29", false},
		{"2024-02-29", "2/29", "2024-02-29", false},
		// Rolls back to 2023, which has no Feb 29.
		{"2024-02-28", "2/29", "", true},
		{"2023-05-01", "2/29", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.today, func(t *testing.T) {
			got, err := ParseDateSpec(tt.input, date(tt.today))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDate) {
					t.Errorf("ParseDateSpec(%q) on %s = %v, %v; want ErrInvalidDate", tt.input, tt.today, got, err)
				}
				return
			}
			if err != nil || got.String() != tt.want {
				t.Errorf("ParseDateSpec(%q) on %s = %v, %v; want %s", tt.input, tt.today, got, err, tt.want)
			}
		})
	}
}

func TestGetTimeRange(t *testing.T) {
	// Wednesday
	today := date("2024-08-14")

	tests := []struct {
		period    string
		wantStart string
		wantEnd   string
	}{
		{"today", "2024-08-14", "2024-08-14"},
		{"yesterday", "2024-08-13", "2024-08-13"},
		{"this-week", "2024-08-12", "2024-08-18"},
		{"last-week", "2024-08-05", "2024-08-11"},
		{"this-month", "2024-08-01", "2024-08-31"},
		{"last-month", "2024-07-01", "2024-07-31"},
		{"this-quarter", "2024-07-01", "2024-09-30"},
		{"last-quarter", "2024-04-01", "2024-06-30"},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			start, end, err := GetTimeRange(tt.period, today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.String())
			assert.Equal(t, tt.wantEnd, end.String())
		})
	}

	t.Run("last-quarter crosses year", func(t *testing.T) {
		start, end, err := GetTimeRange("last-quarter", date("2024-02-10"))
		require.NoError(t, err)
		assert.Equal(t, "2023-10-01", start.String())
		assert.Equal(t, "2023-12-31", end.String())
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := GetTimeRange("fortnight", today)
		assert.Error(t, err)
	})
}

func TestResolveWindow(t *testing.T) {
	today := date("2024-08-20")

	t.Run("defaults to last 30 days", func(t *testing.T) {
		start, end, err := ResolveWindow("", "", today)
		require.NoError(t, err)
		assert.Equal(t, "2024-07-21", start.String())
		assert.Equal(t, "2024-08-20", end.String())
	})

	t.Run("explicit bounds", func(t *testing.T) {
		start, end, err := ResolveWindow("2024-08-05", "2024-08-10", today)
		require.NoError(t, err)
		assert.Equal(t, "2024-08-05", start.String())
		assert.Equal(t, "2024-08-10", end.String())
	})

	t.Run("only end given", func(t *testing.T) {
		start, end, err := ResolveWindow("", "2024-08-10", today)
		require.NoError(t, err)
		assert.Equal(t, "2024-07-21", start.String())
		assert.Equal(t, "2024-08-10", end.String())
	})

	t.Run("start after end", func(t *testing.T) {
		_, _, err := ResolveWindow("2024-08-11", "2024-08-10", today)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDate))
	})

	t.Run("malformed", func(t *testing.T) {
		_, _, err := ResolveWindow("08/01/2024", "", today)
		assert.True(t, errors.Is(err, ErrInvalidDate))
	})
}

func TestGetTZ(t *testing.T) {
	assert.Equal(t, time.UTC, GetTZ("Not/AZone"))
	assert.Equal(t, "America/New_York", GetTZ("America/New_York").String())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("abc"))
	assert.Equal(t, "****7890", MaskToken("access-sandbox-1234567890"))
}

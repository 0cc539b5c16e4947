package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 1000

	tests := []struct {
		header  string
		size    int64
		want    *Range
		wantErr error
	}{
		{header: "", size: size},
		{header: "bytes=0-999", size: size, want: &Range{0, 999}},
		{header: "bytes=500-", size: size, want: &Range{500, 999}},
		{header: "bytes=-500", size: size, want: &Range{500, 999}},
		{header: "bytes=0-0", size: size, want: &Range{0, 0}},
		{header: "bytes=100-199", size: size, want: &Range{100, 199}},
		{header: "bytes=999-", size: size, want: &Range{999, 999}},
		{header: "bytes=0-2000", size: size, want: &Range{0, 999}},
		{header: "bytes=-2000", size: 500, want: &Range{0, 499}},
		{header: "bytes=0-99, 200-299", size: size, want: &Range{0, 99}},
		{header: "bytes=10-20 ,30-40", size: size, want: &Range{10, 20}},

		{header: "bytes=1000-", size: size, wantErr: ErrUnsatisfiable},
		{header: "bytes=1500-2000", size: size, wantErr: ErrUnsatisfiable},
		{header: "bytes=200-100", size: size, wantErr: ErrUnsatisfiable},
		{header: "bytes=0-", size: 0, wantErr: ErrUnsatisfiable},

		{header: "invalid", size: size, wantErr: ErrInvalidRange},
		{header: "chars=0-100", size: size, wantErr: ErrInvalidRange},
		{header: "bytes=abc-100", size: size, wantErr: ErrInvalidRange},
		{header: "bytes=0-abc", size: size, wantErr: ErrInvalidRange},
		{header: "bytes=-0", size: size, wantErr: ErrInvalidRange},
		{header: "bytes=-", size: size, wantErr: ErrInvalidRange},
		{header: "bytes=1-2-3", size: size, wantErr: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange(%q, %d) error = %v, want %v", tt.header, tt.size, err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseRange(%q) = %+v, want nil", tt.header, *got)
			case tt.want != nil && got == nil:
				t.Errorf("ParseRange(%q) = nil, want %+v", tt.header, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("ParseRange(%q) = %+v, want %+v", tt.header, *got, *tt.want)
			}
		})
	}
}

func TestRange_Headers(t *testing.T) {
	tests := []struct {
		r          Range
		total      int64
		wantLength int64
		wantRange  string
	}{
		{Range{0, 99}, 1000, 100, "bytes 0-99/1000"},
		{Range{500, 999}, 1000, 500, "bytes 500-999/1000"},
		{Range{0, 0}, 1, 1, "bytes 0-0/1"},
	}

	for _, tt := range tests {
		if got := tt.r.ContentLength(); got != tt.wantLength {
			t.Errorf("%+v ContentLength() = %d, want %d", tt.r, got, tt.wantLength)
		}
		if got := tt.r.ContentRange(tt.total); got != tt.wantRange {
			t.Errorf("%+v ContentRange() = %s, want %s", tt.r, got, tt.wantRange)
		}
	}
}

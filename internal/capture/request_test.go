package capture

import (
	"errors"
	"image"
	"math"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"fullscreen", Fullscreen(), nil},
		{"region", Region(10, 10, 100, 50), nil},
		{"zero size", Region(10, 10, 0, 0), ErrEmptyRegion},
		{"zero width", Region(10, 10, 0, 5), ErrEmptyRegion},
		{"negative height", Region(10, 10, 5, -1), ErrEmptyRegion},
		{"nan", Region(math.NaN(), 0, 5, 5), ErrEmptyRegion},
		{"inf", Region(0, 0, math.Inf(1), 5), ErrEmptyRegion},
		{"window", Window(0x400001), nil},
		{"window zero", Window(0), ErrWindowNotFound},
		{"unknown kind", Request{Kind: 42}, ErrInvalidRequest},
		{"zero value", Request{}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)
	cases := []struct {
		name   string
		region RectF
		want   image.Rectangle
		err    error
	}{
		{"inside", RectF{10, 20, 100, 50}, image.Rect(10, 20, 110, 70), nil},
		{"fractional snaps outward", RectF{10.5, 20.25, 99.1, 49.5}, image.Rect(10, 20, 110, 70), nil},
		{"overhang right", RectF{1900, 1000, 100, 100}, image.Rect(1900, 1000, 1920, 1080), nil},
		{"overhang left", RectF{-50, -50, 100, 100}, image.Rect(0, 0, 50, 50), nil},
		{"covers everything", RectF{-1e9, -1e9, 2e9, 2e9}, bounds, nil},
		{"wholly outside", RectF{2000, 2000, 10, 10}, image.Rectangle{}, ErrOutOfBounds},
		{"touching edge", RectF{1920, 0, 10, 10}, image.Rectangle{}, ErrOutOfBounds},
		{"wholly negative", RectF{-100, -100, 50, 50}, image.Rectangle{}, ErrOutOfBounds},
		{"nan", RectF{math.NaN(), 0, 10, 10}, image.Rectangle{}, ErrOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Clamp(tc.region, bounds)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("Clamp() error = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Clamp() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClampOffsetDisplay(t *testing.T) {
	// primary monitor to the right of another output
	bounds := image.Rect(1280, 0, 3200, 1080)
	got, err := Clamp(RectF{1200, 10, 200, 20}, bounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := image.Rect(1280, 10, 1400, 30); got != want {
		t.Fatalf("Clamp() = %v, want %v", got, want)
	}
}

func TestKindString(t *testing.T) {
	if KindRegion.String() != "region" || Kind(9).String() != "kind(9)" {
		t.Fatalf("unexpected kind names %q %q", KindRegion, Kind(9))
	}
}

package audio

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestUpsampleTriplesEverySample(t *testing.T) {
	in := []int16{1, -2, 300}
	got := Upsample3x(in)
	want := []int16{1, 1, 1, -2, -2, -2, 300, 300, 300}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("upsample mismatch (-want +got):\n%s", diff)
	}
}

func TestDownsampleInvertsUpsample(t *testing.T) {
	in := []int16{5, 6, 7, 8, -9, 10, 0, -32768, 32767}
	got := DownsampleBy3(Upsample3x(in))
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDownsampleTruncatesRemainder(t *testing.T) {
	cases := []struct {
		name string
		in   []int16
		want []int16
	}{
		{"empty", nil, nil},
		{"one", []int16{1}, nil},
		{"two", []int16{1, 2}, nil},
		{"exact", []int16{1, 2, 3}, []int16{1}},
		{"remainder_one", []int16{1, 2, 3, 4}, []int16{1}},
		{"remainder_two", []int16{1, 2, 3, 4, 5}, []int16{1}},
		{"seven", []int16{1, 2, 3, 4, 5, 6, 7}, []int16{1, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DownsampleBy3(tc.in)
			if len(got) != len(tc.in)/3 {
				t.Fatalf("length %d, want floor(%d/3)=%d", len(got), len(tc.in), len(tc.in)/3)
			}
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("downsample mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpsampleNoPadding(t *testing.T) {
	for n := 0; n < 10; n++ {
		in := make([]int16, n)
		if got := len(Upsample3x(in)); got != n*3 {
			t.Fatalf("upsample length %d for input %d, want %d", got, n, n*3)
		}
	}
}

package enhance

import (
	"errors"
	"testing"

	"github.com/ayusman/mudra/internal/capture"
	"gocv.io/x/gocv"
)

func TestKernelSize(t *testing.T) {
	tests := []struct {
		intensity float64
		want      int
	}{
		{0, 0},
		{0.4, 0},
		{1, 5},
		{2.6, 13},
		{5, 21},
		{10, 41},
		{25, 41},
		{-3, 0},
	}
	for _, tt := range tests {
		if got := KernelSize(tt.intensity); got != tt.want {
			t.Errorf("KernelSize(%v) = %d, want %d", tt.intensity, got, tt.want)
		}
		if got := KernelSize(tt.intensity); got != 0 && got%2 == 0 {
			t.Errorf("KernelSize(%v) = %d is even", tt.intensity, got)
		}
	}
}

func TestBackgroundProcessor_Smooth(t *testing.T) {
	b := NewBackgroundProcessor(nil)

	if got := b.smooth(10); got != 10 {
		t.Errorf("expected first sample unchanged, got %v", got)
	}
	for i := 0; i < 4; i++ {
		b.smooth(0)
	}
	if got := b.smooth(0); got != 0 {
		t.Errorf("expected old sample to age out of the window, got %v", got)
	}
	if got := b.smooth(5); got != 1 {
		t.Errorf("expected mean of last five, got %v", got)
	}

	b.Reset()
	if got := b.smooth(3); got != 3 {
		t.Errorf("expected reset history, got %v", got)
	}
}

func stripedFrame(rows, cols int) gocv.Mat {
	m := capture.SolidFrame(rows, cols, 0, 0, 0)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c += 2 {
			for k := 0; k < 3; k++ {
				m.SetUCharAt(r, c*3+k, 255)
			}
		}
	}
	return m
}

func halfMask(rows, cols int) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols/2; c++ {
			m.SetUCharAt(r, c, 255)
		}
	}
	return m
}

func TestUnionMasks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	left := halfMask(10, 20)
	defer left.Close()
	right := gocv.NewMatWithSize(10, 20, gocv.MatTypeCV8U)
	right.SetTo(gocv.NewScalar(0, 0, 0, 0))
	right.SetUCharAt(5, 15, 200)
	right.SetUCharAt(5, 16, 100) // below threshold
	defer right.Close()
	wrongSize := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8U)
	defer wrongSize.Close()

	union := UnionMasks([]gocv.Mat{left, right, wrongSize}, 10, 20)
	defer union.Close()

	checks := []struct {
		row, col int
		want     uint8
	}{
		{0, 0, 255},
		{9, 9, 255},
		{5, 15, 255},
		{5, 16, 0},
		{0, 19, 0},
	}
	for _, c := range checks {
		if got := union.GetUCharAt(c.row, c.col); got != c.want {
			t.Errorf("union(%d,%d) = %d, want %d", c.row, c.col, got, c.want)
		}
	}

	empty := UnionMasks(nil, 10, 20)
	defer empty.Close()
	if gocv.CountNonZero(empty) != 0 {
		t.Error("expected all-background mask with no people")
	}
}

func TestBackgroundProcessor_Apply(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := stripedFrame(40, 80)
	defer frame.Close()

	t.Run("intensity zero passes through", func(t *testing.T) {
		b := NewBackgroundProcessor(nil)
		out, stats, err := b.Apply(frame, 0, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer out.Close()
		if stats.Kernel != 0 {
			t.Errorf("expected no kernel, got %d", stats.Kernel)
		}
		if string(out.ToBytes()) != string(frame.ToBytes()) {
			t.Error("expected unchanged frame")
		}
	})

	t.Run("person kept sharp and background blurred", func(t *testing.T) {
		b := NewBackgroundProcessor(NewStaticSegmenter(halfMask(40, 80)))
		out, stats, err := b.Apply(frame, 5, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer out.Close()

		if stats.People != 1 || stats.Kernel != 21 {
			t.Errorf("unexpected stats %+v", stats)
		}
		for _, col := range []int{4, 5} {
			if got, want := out.GetVecbAt(20, col)[0], frame.GetVecbAt(20, col)[0]; got != want {
				t.Errorf("foreground col %d changed: %d -> %d", col, want, got)
			}
		}
		// Alternating stripes blur toward mid-grey.
		for _, col := range []int{70, 71} {
			if got := out.GetVecbAt(20, col)[0]; got < 80 || got > 175 {
				t.Errorf("background col %d not blurred, got %d", col, got)
			}
		}
	})

	t.Run("segmentation failure is returned", func(t *testing.T) {
		seg := NewStaticSegmenter()
		seg.SetError(errors.New("worker gone"))
		b := NewBackgroundProcessor(seg)

		out, _, err := b.Apply(frame, 5, true)
		defer out.Close()
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("malformed frame", func(t *testing.T) {
		b := NewBackgroundProcessor(NewStaticSegmenter())
		empty := gocv.NewMat()
		defer empty.Close()
		out, _, err := b.Apply(empty, 5, true)
		defer out.Close()
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})
}

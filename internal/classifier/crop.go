package classifier

import (
	"errors"
	"image"
	"math"

	"github.com/ayusman/mudra/internal/detector"
	"gocv.io/x/gocv"
)

// DefaultCropPadding is the margin added around the hand, as a fraction
// of the larger box side.
const DefaultCropPadding = 0.2

// ErrEmptyCrop is returned when the hand box falls outside the frame.
var ErrEmptyCrop = errors.New("hand crop is empty")

// CropRect returns the square pixel box around hand's landmarks, padded
// and clamped to a cols x rows frame. Landmarks are normalized to [0,1].
func CropRect(hand detector.HandLandmarks, cols, rows int, padding float64) image.Rectangle {
	minX, minY, maxX, maxY := hand.Bounds()
	x0, x1 := minX*float64(cols), maxX*float64(cols)
	y0, y1 := minY*float64(rows), maxY*float64(rows)

	side := math.Max(x1-x0, y1-y0)
	side += 2 * padding * side
	cx, cy := (x0+x1)/2, (y0+y1)/2

	r := image.Rect(
		int(math.Floor(cx-side/2)), int(math.Floor(cy-side/2)),
		int(math.Ceil(cx+side/2)), int(math.Ceil(cy+side/2)),
	)
	return r.Intersect(image.Rect(0, 0, cols, rows))
}

// HandCrop copies the padded square around hand out of frame.
func HandCrop(frame gocv.Mat, hand detector.HandLandmarks, padding float64) (gocv.Mat, error) {
	r := CropRect(hand, frame.Cols(), frame.Rows(), padding)
	if r.Empty() {
		return gocv.NewMat(), ErrEmptyCrop
	}
	region := frame.Region(r)
	defer region.Close()
	return region.Clone(), nil
}

// Package layout has rectangle helpers for the overlay and test patterns.
package layout

import "image"

// Inset shrinks rect by paddingPx on all sides.
func Inset(rect image.Rectangle, paddingPx int) image.Rectangle {
	if paddingPx <= 0 {
		return rect
	}
	out := image.Rect(rect.Min.X+paddingPx, rect.Min.Y+paddingPx, rect.Max.X-paddingPx, rect.Max.Y-paddingPx)
	return Normalize(out)
}

// Normalize ensures Min is <= Max on both axes.
func Normalize(rect image.Rectangle) image.Rectangle {
	if rect.Min.X > rect.Max.X {
		rect.Min.X, rect.Max.X = rect.Max.X, rect.Min.X
	}
	if rect.Min.Y > rect.Max.Y {
		rect.Min.Y, rect.Max.Y = rect.Max.Y, rect.Min.Y
	}
	return rect
}

// Columns splits rect into n vertical strips. The last strip absorbs the
// remainder so the strips always cover rect.
func Columns(rect image.Rectangle, n int) []image.Rectangle {
	rect = Normalize(rect)
	if n <= 0 {
		return nil
	}
	out := make([]image.Rectangle, n)
	w := rect.Dx() / n
	for i := range out {
		x0 := rect.Min.X + i*w
		x1 := x0 + w
		if i == n-1 {
			x1 = rect.Max.X
		}
		out[i] = image.Rect(x0, rect.Min.Y, x1, rect.Max.Y)
	}
	return out
}

// Rows splits rect into n horizontal strips, last one absorbing the remainder.
func Rows(rect image.Rectangle, n int) []image.Rectangle {
	rect = Normalize(rect)
	if n <= 0 {
		return nil
	}
	out := make([]image.Rectangle, n)
	h := rect.Dy() / n
	for i := range out {
		y0 := rect.Min.Y + i*h
		y1 := y0 + h
		if i == n-1 {
			y1 = rect.Max.Y
		}
		out[i] = image.Rect(rect.Min.X, y0, rect.Max.X, y1)
	}
	return out
}

// AnchorTopLeft returns a rectangle of size (widthPx,heightPx) placed in the top-left of rect.
func AnchorTopLeft(rect image.Rectangle, widthPx, heightPx int) image.Rectangle {
	rect = Normalize(rect)
	widthPx = clamp(widthPx, 0, rect.Dx())
	heightPx = clamp(heightPx, 0, rect.Dy())
	return image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+widthPx, rect.Min.Y+heightPx)
}

// AnchorBottomRight places a (widthPx,heightPx) rectangle in the bottom-right of rect.
func AnchorBottomRight(rect image.Rectangle, widthPx, heightPx int) image.Rectangle {
	rect = Normalize(rect)
	widthPx = clamp(widthPx, 0, rect.Dx())
	heightPx = clamp(heightPx, 0, rect.Dy())
	return image.Rect(rect.Max.X-widthPx, rect.Max.Y-heightPx, rect.Max.X, rect.Max.Y)
}

// FitSquare returns the side of the largest square that fits into rect.
func FitSquare(rect image.Rectangle) int {
	rect = Normalize(rect)
	return max(0, min(rect.Dx(), rect.Dy()))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

package layout

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInset(t *testing.T) {
	r := image.Rect(0, 0, 100, 50)
	assert.Equal(t, image.Rect(10, 10, 90, 40), Inset(r, 10))
	assert.Equal(t, r, Inset(r, 0))
	assert.Equal(t, image.Rect(30, 20, 70, 30), Inset(r, 30))
}

func TestColumnsCoverRect(t *testing.T) {
	r := image.Rect(5, 0, 105, 10)
	cols := Columns(r, 3)
	assert.Len(t, cols, 3)
	assert.Equal(t, 5, cols[0].Min.X)
	assert.Equal(t, 105, cols[2].Max.X)
	for i := 1; i < len(cols); i++ {
		assert.Equal(t, cols[i-1].Max.X, cols[i].Min.X)
	}
	assert.Nil(t, Columns(r, 0))
}

func TestRows(t *testing.T) {
	rows := Rows(image.Rect(0, 0, 10, 31), 3)
	assert.Equal(t, image.Rect(0, 0, 10, 10), rows[0])
	assert.Equal(t, image.Rect(0, 20, 10, 31), rows[2])
}

func TestAnchors(t *testing.T) {
	r := image.Rect(10, 10, 60, 40)
	assert.Equal(t, image.Rect(10, 10, 30, 20), AnchorTopLeft(r, 20, 10))
	assert.Equal(t, image.Rect(40, 30, 60, 40), AnchorBottomRight(r, 20, 10))
	assert.Equal(t, r, AnchorTopLeft(r, 500, 500))
	assert.Equal(t, 30, FitSquare(r))
}

package iiif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQualityFormat(t *testing.T) {
	cases := []struct {
		in      string
		quality string
		format  string
		mime    string
		wantErr bool
	}{
		{in: "default.jpg", quality: "default", format: "jpg", mime: "image/jpeg"},
		{in: "color.png", quality: "color", format: "png", mime: "image/png"},
		{in: "gray.webp", quality: "gray", format: "webp", mime: "image/webp"},
		{in: "gray.png", quality: "gray", format: "png", mime: "image/png"},
		{in: "foo.bmp", wantErr: true},
		{in: "default.tiff", wantErr: true},
		{in: "bitonal.jpg", wantErr: true},
		{in: "defaultjpg", wantErr: true},
		{in: ".jpg", wantErr: true},
		{in: "default.", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			q, f, m, err := ParseQualityFormat(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.quality, q)
			assert.Equal(t, tc.format, f)
			assert.Equal(t, tc.mime, m)
		})
	}
}

func TestParseRotation(t *testing.T) {
	assert.NoError(t, ParseRotation("0"))
	for _, bad := range []string{"90", "180", "!0", "0.5", "", "360"} {
		assert.ErrorIs(t, ParseRotation(bad), ErrUnsupportedRotation, bad)
	}
}

func TestParseRegion(t *testing.T) {
	assert.Equal(t, Region{Full: true}, ParseRegion("full"))
	assert.Equal(t, Region{Square: true}, ParseRegion("square"))
	assert.Equal(t, Region{X: 10, Y: 20, W: 100, H: 200}, ParseRegion("10,20,100,200"))

	// Unparsable regions fall back to the full image.
	assert.Equal(t, Region{Full: true}, ParseRegion("10,20,100"))
	assert.Equal(t, Region{Full: true}, ParseRegion("a,b,c,d"))
	assert.Equal(t, Region{Full: true}, ParseRegion("pct:10,10,50,50"))
}

func TestRegionClamp(t *testing.T) {
	cases := []struct {
		name string
		in   Region
		want Region
	}{
		{"inside", Region{X: 10, Y: 10, W: 50, H: 50}, Region{X: 10, Y: 10, W: 50, H: 50}},
		{"overflow width", Region{X: 90, Y: 0, W: 50, H: 50}, Region{X: 90, Y: 0, W: 10, H: 50}},
		{"overflow height", Region{X: 0, Y: 70, W: 50, H: 50}, Region{X: 0, Y: 70, W: 50, H: 10}},
		{"negative origin", Region{X: -5, Y: -5, W: 50, H: 50}, Region{X: 0, Y: 0, W: 50, H: 50}},
		{"origin past edge", Region{X: 200, Y: 0, W: 50, H: 50}, Region{X: 100, Y: 0, W: 0, H: 50}},
		{"negative extent", Region{X: 0, Y: 0, W: -10, H: -10}, Region{X: 0, Y: 0, W: 0, H: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Clamp(100, 80))
		})
	}
}

func TestParseSize(t *testing.T) {
	assert.True(t, ParseSize("max").IsNoop())
	assert.True(t, ParseSize("full").IsNoop())

	assert.Equal(t, Size{mode: sizeBestFit, w: 200, h: 200}, ParseSize("!200,200"))
	assert.Equal(t, Size{mode: sizeWidth, w: 300}, ParseSize("300,"))
	assert.Equal(t, Size{mode: sizeHeight, h: 150}, ParseSize(",150"))
	assert.Equal(t, Size{mode: sizeExact, w: 300, h: 150}, ParseSize("300,150"))

	// Malformed sizes yield a pass-through, not an error.
	// "!" with a missing dimension included: best-fit needs both.
	for _, bad := range []string{"abc", "0,0", "-5,10", "1,2,3", "!", "!abc,def", ",", "!200,", "!,200"} {
		assert.True(t, ParseSize(bad).IsNoop(), bad)
	}
}

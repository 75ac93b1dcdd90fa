package quality

import "math"

// sampledPixels bounds the number of leading pixels averaged when deriving a
// dominant color or mean luminance. The buffers are treated as RGBA quads.
const sampledPixels = 1000

// RGB is an 8-bit-per-channel color with float components so that averaged
// values survive the Lab conversion without truncation.
type RGB struct {
	R, G, B float64
}

type lab struct {
	l, a, b float64
}

// DominantColor averages the first sampledPixels pixels of an RGBA buffer.
// An empty buffer yields mid gray.
func DominantColor(data []byte) RGB {
	sample := sampledPixels * 4
	if len(data) < sample {
		sample = len(data)
	}
	var r, g, b float64
	count := 0
	for i := 0; i+2 < sample; i += 4 {
		r += float64(data[i])
		g += float64(data[i+1])
		b += float64(data[i+2])
		count++
	}
	if count == 0 {
		return RGB{R: 128, G: 128, B: 128}
	}
	n := float64(count)
	return RGB{
		R: math.Round(r / n),
		G: math.Round(g / n),
		B: math.Round(b / n),
	}
}

// MeanLuminance computes the mean perceptual luminance over the same pixel
// sample as DominantColor. An empty buffer yields mid gray (128).
func MeanLuminance(data []byte) float64 {
	sample := sampledPixels * 4
	if len(data) < sample {
		sample = len(data)
	}
	var sum float64
	count := 0
	for i := 0; i+2 < sample; i += 4 {
		sum += 0.299*float64(data[i]) + 0.587*float64(data[i+1]) + 0.114*float64(data[i+2])
		count++
	}
	if count == 0 {
		return 128
	}
	return sum / float64(count)
}

// DeltaE computes the CIE76 color difference between two colors, rounded to
// one decimal. 0 means identical; larger means more different.
func DeltaE(x, y RGB) float64 {
	lx := rgbToLab(x)
	ly := rgbToLab(y)
	dl := lx.l - ly.l
	da := lx.a - ly.a
	db := lx.b - ly.b
	return math.Round(math.Sqrt(dl*dl+da*da+db*db)*10) / 10
}

// rgbToLab converts sRGB to CIE L*a*b* via linear RGB and XYZ with a D65
// reference white.
func rgbToLab(c RGB) lab {
	r := linearize(c.R / 255)
	g := linearize(c.G / 255)
	b := linearize(c.B / 255)

	x := (r*0.4124 + g*0.3576 + b*0.1805) * 100
	y := (r*0.2126 + g*0.7152 + b*0.0722) * 100
	z := (r*0.0193 + g*0.1192 + b*0.9505) * 100

	// D65 reference white.
	const (
		xn = 95.047
		yn = 100.0
		zn = 108.883
	)

	fx := labF(x / xn)
	fy := labF(y / yn)
	fz := labF(z / zn)

	return lab{
		l: 116*fy - 16,
		a: 500 * (fx - fy),
		b: 200 * (fy - fz),
	}
}

func linearize(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func labF(t float64) float64 {
	if t > 0.008856 {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package analyzer

import (
	"image"

	"github.com/disintegration/imaging"
)

// mask is a binary image in row-major order.
type mask struct {
	w, h int
	on   []bool
}

func newMask(w, h int) *mask {
	return &mask{w: w, h: h, on: make([]bool, w*h)}
}

func (m *mask) at(x, y int) bool { return m.on[y*m.w+x] }

func (m *mask) count() int {
	n := 0
	for _, v := range m.on {
		if v {
			n++
		}
	}
	return n
}

// toNRGBA returns a zero-origin NRGBA copy of img.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// vegetationMask marks pixels whose excess green index exceeds threshold.
func vegetationMask(img *image.NRGBA, threshold int) *mask {
	b := img.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < m.w; x++ {
			r, g, bl := int(row[x*4]), int(row[x*4+1]), int(row[x*4+2])
			if 2*g-r-bl > threshold {
				m.on[y*m.w+x] = true
			}
		}
	}
	return m
}

// brightMask marks pixels where every channel is at least threshold.
func brightMask(img *image.NRGBA, threshold uint8) *mask {
	b := img.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < m.w; x++ {
			if row[x*4] >= threshold && row[x*4+1] >= threshold && row[x*4+2] >= threshold {
				m.on[y*m.w+x] = true
			}
		}
	}
	return m
}

// darkMask marks pixels whose luminance is below threshold.
func darkMask(img image.Image, threshold uint8) *mask {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < m.w; x++ {
			if row[x*4] < threshold {
				m.on[y*m.w+x] = true
			}
		}
	}
	return m
}

// morph applies a square structuring element of the given size separably.
// Pixels outside the image do not take part, so borders neither grow nor erode.
func (m *mask) morph(size int, dilate bool) *mask {
	r := size / 2
	if r <= 0 {
		out := newMask(m.w, m.h)
		copy(out.on, m.on)
		return out
	}

	tmp := newMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			tmp.on[y*m.w+x] = m.window(x, y, r, true, dilate)
		}
	}
	out := newMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			out.on[y*m.w+x] = tmp.window(x, y, r, false, dilate)
		}
	}
	return out
}

// window reduces a 1-D neighbourhood with OR (dilate) or AND (erode).
func (m *mask) window(x, y, r int, horizontal, dilate bool) bool {
	lo, hi := x-r, x+r
	limit := m.w
	if !horizontal {
		lo, hi = y-r, y+r
		limit = m.h
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= limit {
		hi = limit - 1
	}
	for i := lo; i <= hi; i++ {
		var v bool
		if horizontal {
			v = m.on[y*m.w+i]
		} else {
			v = m.on[i*m.w+x]
		}
		if dilate && v {
			return true
		}
		if !dilate && !v {
			return false
		}
	}
	return !dilate
}

// closeOpen removes small gaps and then small specks.
func (m *mask) closeOpen(size int) *mask {
	closed := m.morph(size, true).morph(size, false)
	return closed.morph(size, false).morph(size, true)
}

// component is an 8-connected foreground region.
type component struct {
	area                   int
	minX, minY, maxX, maxY int
}

func (c component) width() int  { return c.maxX - c.minX + 1 }
func (c component) height() int { return c.maxY - c.minY + 1 }

// components labels 8-connected regions with an iterative flood fill.
func (m *mask) components() []component {
	seen := make([]bool, len(m.on))
	var out []component
	queue := make([]int, 0, 64)

	for start, v := range m.on {
		if !v || seen[start] {
			continue
		}
		c := component{minX: m.w, minY: m.h, maxX: -1, maxY: -1}
		seen[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%m.w, idx/m.w
			c.area++
			c.minX = min(c.minX, x)
			c.maxX = max(c.maxX, x)
			c.minY = min(c.minY, y)
			c.maxY = max(c.maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					n := ny*m.w + nx
					if m.on[n] && !seen[n] {
						seen[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		out = append(out, c)
	}
	return out
}

package capture

import (
	"image"
	"sync"
)

// FramePool recycles snapshot buffers to reduce GC pressure while streaming.
type FramePool struct {
	pool sync.Pool
}

// NewFramePool creates an empty pool.
func NewFramePool() *FramePool {
	return &FramePool{}
}

// Get returns an RGBA image of exactly w x h. Contents are undefined.
func (p *FramePool) Get(w, h int) *image.RGBA {
	need := w * h * 4
	if v := p.pool.Get(); v != nil {
		img := v.(*image.RGBA)
		if cap(img.Pix) >= need {
			img.Pix = img.Pix[:need]
			img.Stride = w * 4
			img.Rect = image.Rect(0, 0, w, h)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Put returns a buffer to the pool. Nil is ignored.
func (p *FramePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.pool.Put(img)
}

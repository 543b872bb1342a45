package overlay

import "sync"

// Pane is the render layer images are placed in. Implementations receive
// copies and must not call back into the overlay.
type Pane interface {
	Append(img Image)
	Remove(generation uint64)
	Update(img Image)
}

// MemoryPane records the images currently in the render layer, in
// insertion order.
type MemoryPane struct {
	mu     sync.RWMutex
	images []Image
}

// NewMemoryPane creates an empty pane.
func NewMemoryPane() *MemoryPane {
	return &MemoryPane{}
}

// Append implements Pane.
func (p *MemoryPane) Append(img Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, img)
}

// Remove implements Pane.
func (p *MemoryPane) Remove(generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, img := range p.images {
		if img.Generation == generation {
			p.images = append(p.images[:i], p.images[i+1:]...)
			return
		}
	}
}

// Update implements Pane. Images not in the pane are ignored.
func (p *MemoryPane) Update(img Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.images {
		if p.images[i].Generation == img.Generation {
			p.images[i] = img
			return
		}
	}
}

// Images returns the images in the pane.
func (p *MemoryPane) Images() []Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Image(nil), p.images...)
}

// Len returns the number of images in the pane.
func (p *MemoryPane) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.images)
}

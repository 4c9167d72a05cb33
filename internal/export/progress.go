package export

import "sync"

// Progress is a fraction in [0, 1] written by one export worker and polled
// by any number of readers. Only the latest value matters.
type Progress struct {
	mu    sync.Mutex
	value float64
}

// Set stores v clamped to [0, 1].
func (p *Progress) Set(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

func (p *Progress) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Finish publishes the terminal value 1.0.
func (p *Progress) Finish() {
	p.Set(1)
}

func (p *Progress) IsDone() bool {
	return p.Value() == 1
}

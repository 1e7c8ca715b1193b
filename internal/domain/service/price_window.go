package service

// DefaultWindowSize capacity of the rolling price history.
const DefaultWindowSize = 60

// PriceWindow fixed-capacity ring of recent prices, oldest evicted first.
// Not safe for concurrent use; the trading loop owns it.
type PriceWindow struct {
	buf  []float64
	head int // index of the oldest sample
	size int
}

func NewPriceWindow(capacity int) *PriceWindow {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &PriceWindow{buf: make([]float64, capacity)}
}

func (w *PriceWindow) Push(p float64) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = p
		w.size++
		return
	}
	w.buf[w.head] = p
	w.head = (w.head + 1) % len(w.buf)
}

func (w *PriceWindow) Len() int { return w.size }

func (w *PriceWindow) Cap() int { return len(w.buf) }

// Values samples oldest to newest.
func (w *PriceWindow) Values() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Max highest sample; ok is false when empty.
func (w *PriceWindow) Max() (max float64, ok bool) {
	for i := 0; i < w.size; i++ {
		v := w.buf[(w.head+i)%len(w.buf)]
		if !ok || v > max {
			max, ok = v, true
		}
	}
	return max, ok
}

// Mean simple average of the newest n samples; ok is false when fewer exist.
func (w *PriceWindow) Mean(n int) (mean float64, ok bool) {
	if n <= 0 || n > w.size {
		return 0, false
	}
	sum := 0.0
	for i := w.size - n; i < w.size; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(n), true
}

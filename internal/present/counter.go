package present

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReportInterval is the wall-clock cadence of the throughput line.
const DefaultReportInterval = 2 * time.Second

// FrameCounter counts presented frames and periodically logs throughput.
// Measurement starts at the first frame, so startup cost is excluded.
type FrameCounter struct {
	mu         sync.Mutex
	frames     uint64
	start      time.Time
	lastReport time.Time
	fps        float64

	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewFrameCounter(interval time.Duration, log zerolog.Logger) *FrameCounter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &FrameCounter{interval: interval, now: time.Now, log: log}
}

// SetClock replaces the time source.
func (c *FrameCounter) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Frame records one presented frame.
func (c *FrameCounter) Frame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	now := c.now()
	if c.frames == 1 {
		c.start, c.lastReport = now, now
		return
	}
	if now.Sub(c.lastReport) < c.interval {
		return
	}
	c.lastReport = now
	elapsed := now.Sub(c.start)
	counted := c.frames - 1
	c.fps = float64(counted) / elapsed.Seconds()
	c.log.Info().
		Uint64("frames", counted).
		Float64("seconds", elapsed.Seconds()).
		Float64("fps", c.fps).
		Msgf("rendered %d frames in %.2f seconds (%.2f fps)", counted, elapsed.Seconds(), c.fps)
}

func (c *FrameCounter) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// FPS is the figure from the last report, 0 before the first one.
func (c *FrameCounter) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

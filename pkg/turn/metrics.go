package turn

import (
	"sync"
	"time"
)

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the moment the utterance reached the pipeline.
type Metrics struct {
	SessionID string
	Start     time.Time

	// Computed latencies (from Start)
	TranscriptLatency time.Duration // transcription finished
	FirstToken        time.Duration // first non-empty LLM delta
	ReplyLatency      time.Duration // full reply accumulated
	FirstAudio        time.Duration // first PCM frame handed to the transport
	TotalLatency      time.Duration // turn finished

	// Counts for this turn
	AudioFrames  int
	AudioSamples int
	ReplyChars   int
}

// FormatLatency returns a formatted string of the turn's latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.TranscriptLatency) + " STT | " +
		formatDuration(m.FirstToken) + " LLM first | " +
		formatDuration(m.ReplyLatency) + " LLM | " +
		formatDuration(m.FirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// timer fills one turn's Metrics. It is owned by a single Run call, except
// for the first-token mark which may come from the generator's callback.
type timer struct {
	mu sync.Mutex
	m  Metrics
}

func newTimer(sessionID string) *timer {
	return &timer{m: Metrics{SessionID: sessionID, Start: time.Now()}}
}

func (t *timer) since() time.Duration {
	return time.Since(t.m.Start)
}

func (t *timer) markTranscript() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.TranscriptLatency = t.since()
}

func (t *timer) markFirstToken() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m.FirstToken == 0 {
		t.m.FirstToken = t.since()
	}
}

func (t *timer) markReply(chars int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.ReplyLatency = t.since()
	t.m.ReplyChars = chars
}

func (t *timer) addFrame(samples int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m.AudioFrames == 0 {
		t.m.FirstAudio = t.since()
	}
	t.m.AudioFrames++
	t.m.AudioSamples += samples
}

func (t *timer) finish() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.TotalLatency = t.since()
	return t.m
}

// MetricsCollector keeps the metrics of recent completed turns across all
// sessions. It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	history []Metrics
	limit   int

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a collector that keeps the last 100 turns.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
		limit:   100,
	}
}

// OnUpdate sets a callback that fires after every recorded turn.
func (c *MetricsCollector) OnUpdate(fn func(Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Record archives a completed turn.
func (c *MetricsCollector) Record(m Metrics) {
	c.mu.Lock()
	c.history = append(c.history, m)
	if len(c.history) > c.limit {
		c.history = c.history[1:]
	}
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(m)
	}
}

// Len returns the number of turns held.
func (c *MetricsCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Last returns the most recent turn, or false if none.
func (c *MetricsCollector) Last() (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Metrics{}, false
	}
	return c.history[len(c.history)-1], true
}

// Average returns average latencies over recent turns.
func (c *MetricsCollector) Average() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range c.history {
		avg.TranscriptLatency += h.TranscriptLatency
		avg.FirstToken += h.FirstToken
		avg.ReplyLatency += h.ReplyLatency
		avg.FirstAudio += h.FirstAudio
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(c.history))
	avg.TranscriptLatency /= n
	avg.FirstToken /= n
	avg.ReplyLatency /= n
	avg.FirstAudio /= n
	avg.TotalLatency /= n

	return avg
}

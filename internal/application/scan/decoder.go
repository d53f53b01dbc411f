package scan

import (
	"strings"
	gosync "sync"
	"time"
	"unicode"

	"github.com/equiptrack/station/internal/infrastructure/config"
	"go.uber.org/zap"
)

// KeyEvent is one raw keystroke forwarded by the UI. Wedge scanners
// present as keyboards, so scans arrive as bursts of these.
type KeyEvent struct {
	// Key follows the DOM convention: single characters for printable
	// keys, names like "Enter", "Tab", "Escape" for the rest.
	Key string `json:"key"`
	// At is when the keystroke happened. Burst detection runs on the
	// spacing of these timestamps, so they must come from one clock.
	At time.Time `json:"at"`
	// Modified is set when Ctrl, Alt or Meta was held. Shortcut chords
	// are never part of a scan.
	Modified bool `json:"modified"`
	// FromEditable is set when the keystroke landed in a text input. The
	// decoder accumulates these like any other key, since a scanner fires
	// just as fast into a focused field; the flag is kept for the UI layer.
	FromEditable bool `json:"from_editable"`
}

// Result classifies what a keystroke did to the scan in progress.
type Result int

const (
	// ResultNone means the keystroke did not finish a scan. Mid-burst
	// characters and stray suffix keys over an empty buffer land here.
	ResultNone Result = iota
	// ResultToken means a suffix key finished a valid scan.
	ResultToken
	// ResultRejected means a suffix key finished a burst that failed
	// validation, either missing the required prefix or too short.
	ResultRejected
)

// Decoder assembles scanner keystroke bursts into tokens. Humans cannot
// type faster than the inter-key timeout, which is what separates a scan
// from someone touching the keyboard.
type Decoder struct {
	timeout   time.Duration
	minLength int
	prefix    string
	suffixes  map[string]bool
	logger    *zap.Logger

	mu   gosync.Mutex
	buf  []rune
	last time.Time
}

// DecoderOption is a functional option for configuring the decoder
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger for the decoder
func WithDecoderLogger(logger *zap.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = logger }
}

// NewDecoder creates a scan decoder from configuration.
func NewDecoder(cfg *config.ScanConfig, opts ...DecoderOption) *Decoder {
	timeout := cfg.InterKeyTimeout
	if timeout <= 0 {
		timeout = 35 * time.Millisecond
	}
	minLength := cfg.MinLength
	if minLength < 1 {
		minLength = 4
	}
	suffixes := map[string]bool{}
	for _, k := range cfg.SuffixKeys {
		suffixes[k] = true
	}
	if len(suffixes) == 0 {
		suffixes["Enter"] = true
		suffixes["Tab"] = true
	}
	d := &Decoder{
		timeout:   timeout,
		minLength: minLength,
		// Tokens are compared after layout normalization, which uppercases.
		prefix:   strings.ToUpper(cfg.Prefix),
		suffixes: suffixes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed consumes one keystroke. It returns the finished token and
// ResultToken when the keystroke completed a valid scan, ResultRejected
// when it finished a burst that failed validation, and ResultNone for
// everything in between.
func (d *Decoder) Feed(ev KeyEvent) (string, Result) {
	if ev.Modified {
		return "", ResultNone
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && ev.At.Sub(d.last) > d.timeout {
		// The pause was human-length; whatever is buffered was typing.
		d.buf = d.buf[:0]
	}
	d.last = ev.At

	if ev.Key == "Escape" {
		d.buf = d.buf[:0]
		return "", ResultNone
	}

	if d.suffixes[ev.Key] {
		return d.finalize()
	}

	runes := []rune(ev.Key)
	if len(runes) != 1 || !unicode.IsGraphic(runes[0]) || unicode.IsSpace(runes[0]) {
		return "", ResultNone
	}
	d.buf = append(d.buf, runes[0])
	return "", ResultNone
}

// Paste consumes a whole string at once, for scanners configured as
// clipboard devices and for manual entry fields that still want the same
// normalization.
func (d *Decoder) Paste(text string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf[:0], []rune(text)...)
	token, res := d.finalize()
	return token, res == ResultToken
}

// finalize validates and normalizes the buffered keystrokes. The buffer is
// consumed either way. An empty buffer is a stray suffix key, not a
// rejected scan. Caller holds d.mu.
func (d *Decoder) finalize() (string, Result) {
	raw := string(d.buf)
	d.buf = d.buf[:0]

	token := sanitize(raw)
	token = NormalizeLayout(token)
	if token == "" {
		return "", ResultNone
	}
	if d.prefix != "" {
		if len(token) < len(d.prefix) || token[:len(d.prefix)] != d.prefix {
			d.logger.Debug("Discarding scan without required prefix",
				zap.Int("length", len(token)))
			return "", ResultRejected
		}
		token = token[len(d.prefix):]
	}
	if len([]rune(token)) < d.minLength {
		d.logger.Debug("Discarding short scan", zap.Int("length", len(token)))
		return "", ResultRejected
	}
	return token, ResultToken
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsGraphic(r) && !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

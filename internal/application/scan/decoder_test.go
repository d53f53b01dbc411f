package scan

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.ScanConfig {
	return &config.ScanConfig{
		InterKeyTimeout: 35 * time.Millisecond,
		MinLength:       4,
		SuffixKeys:      []string{"Enter", "Tab"},
	}
}

// feedBurst types the given characters with scanner-speed spacing and
// returns the decoder result of the trailing suffix key.
func feedBurst(d *Decoder, start time.Time, chars string, suffix string) (string, Result) {
	at := start
	for _, r := range chars {
		d.Feed(KeyEvent{Key: string(r), At: at})
		at = at.Add(5 * time.Millisecond)
	}
	return d.Feed(KeyEvent{Key: suffix, At: at})
}

func TestDecoder_ScannerBurst(t *testing.T) {
	d := NewDecoder(testConfig())
	token, res := feedBurst(d, time.Now(), "sn123456", "Enter")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "SN123456", token)
}

func TestDecoder_TabAlsoFinalizes(t *testing.T) {
	d := NewDecoder(testConfig())
	token, res := feedBurst(d, time.Now(), "sn123456", "Tab")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "SN123456", token)
}

func TestDecoder_HumanPauseResetsBuffer(t *testing.T) {
	d := NewDecoder(testConfig())
	start := time.Now()

	d.Feed(KeyEvent{Key: "j", At: start})
	d.Feed(KeyEvent{Key: "u", At: start.Add(5 * time.Millisecond)})
	d.Feed(KeyEvent{Key: "n", At: start.Add(10 * time.Millisecond)})
	d.Feed(KeyEvent{Key: "k", At: start.Add(15 * time.Millisecond)})

	// 200ms of silence: a human was typing, not a scanner.
	token, res := feedBurst(d, start.Add(215*time.Millisecond), "sn123456", "Enter")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "SN123456", token, "the stale prefix must not leak into the scan")
}

func TestDecoder_ShortTokenRejected(t *testing.T) {
	d := NewDecoder(testConfig())
	_, res := feedBurst(d, time.Now(), "ab1", "Enter")
	assert.Equal(t, ResultRejected, res, "a finished burst that fails validation is a rejection, not silence")
}

func TestDecoder_StraySuffixKeyIsNotARejection(t *testing.T) {
	d := NewDecoder(testConfig())
	_, res := d.Feed(KeyEvent{Key: "Enter", At: time.Now()})
	assert.Equal(t, ResultNone, res, "an Enter over an empty buffer is just a keystroke")
}

func TestDecoder_ModifiedKeysIgnored(t *testing.T) {
	d := NewDecoder(testConfig())
	at := time.Now()

	// Ctrl+C mid-burst must not contribute a character.
	d.Feed(KeyEvent{Key: "s", At: at})
	d.Feed(KeyEvent{Key: "c", At: at.Add(5 * time.Millisecond), Modified: true})
	d.Feed(KeyEvent{Key: "n", At: at.Add(10 * time.Millisecond)})
	token, res := feedBurst(d, at.Add(15*time.Millisecond), "123456", "Enter")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "SN123456", token)
}

func TestDecoder_EditableFocusStillAccumulates(t *testing.T) {
	d := NewDecoder(testConfig())
	at := time.Now()

	// The scanner fires at the same speed whether or not a text field has
	// focus, so focus must not hide the scan.
	for i, r := range "tsd-001" {
		d.Feed(KeyEvent{Key: string(r), At: at.Add(time.Duration(i) * 5 * time.Millisecond), FromEditable: true})
	}
	token, res := d.Feed(KeyEvent{Key: "Enter", At: at.Add(40 * time.Millisecond), FromEditable: true})
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "TSD-001", token)
}

func TestDecoder_EscapeClearsBuffer(t *testing.T) {
	d := NewDecoder(testConfig())
	at := time.Now()

	for i, r := range "sn123456" {
		d.Feed(KeyEvent{Key: string(r), At: at.Add(time.Duration(i) * 5 * time.Millisecond)})
	}
	d.Feed(KeyEvent{Key: "Escape", At: at.Add(45 * time.Millisecond)})
	_, res := d.Feed(KeyEvent{Key: "Enter", At: at.Add(50 * time.Millisecond)})
	assert.Equal(t, ResultNone, res)
}

func TestDecoder_RussianLayoutNormalized(t *testing.T) {
	d := NewDecoder(testConfig())
	// Scanning "TSD123" with the Russian OS layout active types "еыв123".
	token, res := feedBurst(d, time.Now(), "еыв123", "Enter")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "TSD123", token)
}

func TestDecoder_PrefixStripped(t *testing.T) {
	cfg := testConfig()
	cfg.Prefix = "EQ-"
	d := NewDecoder(cfg)

	token, res := feedBurst(d, time.Now(), "eq-sn1234", "Enter")
	require.Equal(t, ResultToken, res)
	assert.Equal(t, "SN1234", token)

	_, res = feedBurst(d, time.Now().Add(time.Second), "sn1234", "Enter")
	assert.Equal(t, ResultRejected, res, "scans without the required prefix are rejected")
}

func TestDecoder_Paste(t *testing.T) {
	d := NewDecoder(testConfig())

	token, ok := d.Paste(" sn1234\n")
	require.True(t, ok)
	assert.Equal(t, "SN1234", token, "pasted text is sanitized and normalized")

	_, ok = d.Paste("x")
	assert.False(t, ok)
}

func TestNormalizeLayout(t *testing.T) {
	assert.Equal(t, "QWERTY", NormalizeLayout("йцукен"))
	assert.Equal(t, "SN-001", NormalizeLayout("sn-001"))
	assert.Equal(t, "ABC123", NormalizeLayout("AbC123"))
}

func TestTones(t *testing.T) {
	for name, clip := range map[string][]byte{
		"success": SuccessTone(),
		"failure": FailureTone(),
	} {
		t.Run(name, func(t *testing.T) {
			require.Greater(t, len(clip), 44)
			assert.Equal(t, "RIFF", string(clip[0:4]))
			assert.Equal(t, "WAVE", string(clip[8:12]))
			assert.Equal(t, uint32(sampleRate), binary.LittleEndian.Uint32(clip[24:28]))

			dataLen := binary.LittleEndian.Uint32(clip[40:44])
			assert.Equal(t, int(dataLen), len(clip)-44)
		})
	}

	assert.Greater(t, len(FailureTone()), len(SuccessTone()),
		"the failure buzz is longer than the success blip")
}

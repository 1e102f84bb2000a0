package sector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbrzusto/digdar/buffer"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("0.2:0.8")
	require.NoError(t, err)
	assert.Equal(t, Window{Begin: 0.2, End: 0.8}, w)
	assert.Equal(t, "0.2:0.8", w.String())

	for _, bad := range []string{"", "0.2", "a:0.3", "0.1:b", "-0.1:0.5", "0.5:1.5"} {
		_, err := ParseWindow(bad)
		assert.Error(t, err, bad)
	}
}

func TestWindowContains(t *testing.T) {
	tests := []struct {
		name string
		w    Window
		pos  float64
		want bool
	}{
		{"inside", Window{0.2, 0.8}, 0.5, true},
		{"before", Window{0.2, 0.8}, 0.1, false},
		{"begin inclusive", Window{0.2, 0.8}, 0.2, true},
		{"end exclusive", Window{0.2, 0.8}, 0.8, false},
		{"wrapped high", Window{0.8, 0.2}, 0.9, true},
		{"wrapped low", Window{0.8, 0.2}, 0.1, true},
		{"wrapped outside", Window{0.8, 0.2}, 0.5, false},
		{"wrapped zero", Window{0.8, 0.2}, 0, true},
		{"empty", Window{0.3, 0.3}, 0.3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.w.Contains(tt.pos))
		})
	}
}

func TestFilterUnion(t *testing.T) {
	f, err := NewFilter([]Window{{0.1, 0.2}, {0.9, 0.05}}, 450, 0)
	require.NoError(t, err)
	assert.False(t, f.RetainedAt(0.15))
	assert.False(t, f.RetainedAt(0.95))
	assert.False(t, f.RetainedAt(0.01))
	assert.True(t, f.RetainedAt(0.5))
	assert.True(t, f.RetainedAt(0.05))
}

func TestNewFilterLimits(t *testing.T) {
	ws := make([]Window, MaxRemovals+1)
	_, err := NewFilter(ws, 450, 0)
	assert.Error(t, err)

	_, err = NewFilter(ws[:MaxRemovals], 450, 0)
	assert.NoError(t, err)

	_, err = NewFilter([]Window{{0, 1.2}}, 450, 0)
	assert.Error(t, err)

	_, err = NewFilter([]Window{{0, 0.5}}, 0, 0)
	assert.Error(t, err, "ACPs per rotation required")
}

func TestPosition(t *testing.T) {
	f, err := NewFilter(nil, 100, 0)
	require.NoError(t, err)
	h := buffer.Header{ACPCount: 1025, ACPAtARP: 1000}
	assert.InDelta(t, 0.25, f.Position(&h), 1e-12)

	// more ACPs than a rotation since the last ARP wraps around
	h = buffer.Header{ACPCount: 1130, ACPAtARP: 1000}
	assert.InDelta(t, 0.30, f.Position(&h), 1e-12)
}

func TestPositionInterpolates(t *testing.T) {
	// 60 RPM, 100 ACPs: 1.25e6 ADC clocks per ACP
	f, err := NewFilter(nil, 100, 60)
	require.NoError(t, err)

	h := buffer.Header{ACPCount: 10, ACPAtARP: 0, ACPClock: 5_000_000, TrigClock: 5_625_000}
	assert.InDelta(t, 0.105, f.Position(&h), 1e-12)

	// an overdue ACP never pushes the estimate past the next one
	h.TrigClock = 50_000_000
	assert.InDelta(t, 0.11, f.Position(&h), 1e-12)
}

func TestRetained(t *testing.T) {
	w, err := ParseWindow("0.2:0.8")
	require.NoError(t, err)
	f, err := NewFilter([]Window{w}, 100, 0)
	require.NoError(t, err)

	kept := buffer.Header{ACPCount: 10}
	removed := buffer.Header{ACPCount: 50}
	assert.True(t, f.Retained(&kept))
	assert.False(t, f.Retained(&removed))

	var none *Filter
	assert.True(t, none.Retained(&removed), "nil filter keeps everything")
	assert.False(t, none.Active())
}

package driver

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTickClockRatio(t *testing.T) {
	c := NewTickClock(192, 120)

	want := 60e9 / 192 / 120.0
	if c.Ratio() != want {
		t.Errorf("ratio = %f, want %f", c.Ratio(), want)
	}

	c.SetTempo(60)
	if c.Ratio() != 2*want {
		t.Errorf("ratio after tempo halved = %f, want %f", c.Ratio(), 2*want)
	}
}

func TestTickClockConversion(t *testing.T) {
	c := NewTickClock(192, 120)

	// one quarter at 120 BPM is half a second
	if ns := c.TicksToNs(192); ns != 0.5e9 {
		t.Errorf("TicksToNs(192) = %f, want 5e8", ns)
	}
	if tick := c.NsToTicks(0.5e9); tick != 192 {
		t.Errorf("NsToTicks(5e8) = %d, want 192", tick)
	}
}

// gopter: tick -> ns -> tick is the identity over the scheduling range
// at any tempo.
func TestTickClockRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	properties.Property("ns_to_ticks(ticks_to_ns(t)) == t", prop.ForAll(
		func(tick, tempo int) bool {
			c := NewTickClock(192, float64(tempo))
			return c.NsToTicks(c.TicksToNs(tick)) == tick
		},
		gen.IntRange(0, 1<<20),
		gen.IntRange(20, 300),
	))

	properties.TestingRun(t)
}

func TestRecalibrate(t *testing.T) {
	tests := []struct {
		name       string
		realtimeNs float64
		tick       int
		wantKept   bool
	}{
		{"plausible", 96e6, 48, false},
		{"zero tick ignored", 5e9, 0, true},
		{"zero time rejected", 0, 48, true},
		{"implausibly slow rejected", 60e9, 48, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTickClock(192, 120)
			prev := c.Ratio()
			c.Recalibrate(tt.realtimeNs, tt.tick)
			if tt.wantKept && c.Ratio() != prev {
				t.Errorf("ratio changed to %f, want kept %f", c.Ratio(), prev)
			}
			if !tt.wantKept && c.Ratio() == prev {
				t.Errorf("ratio kept %f, want recalibrated", prev)
			}
		})
	}
}

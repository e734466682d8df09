// Package delay implements the propagation delay models applied to bundles in
// transit: a fixed preset delay, a two-body orbital model and a single-body
// sinusoidal model.
package delay

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// SpeedOfLight is the propagation speed in km/s.
	SpeedOfLight = 299792.458

	// EarthOrbitalRadius is 1 AU in km.
	EarthOrbitalRadius = 149598000.0
	// MarsOrbitalRadius is 1.52 AU in km.
	MarsOrbitalRadius = 227939200.0
	// EarthOrbitalPeriod is in days.
	EarthOrbitalPeriod = 365.25
	// MarsOrbitalPeriod is in days.
	MarsOrbitalPeriod = 687.0

	// MoonMeanDistance is the average Earth-Moon distance in km.
	MoonMeanDistance = 384400.0
	// MoonDistanceVariation is the amplitude of the distance swing in km.
	MoonDistanceVariation = 20000.0
	// MoonOrbitalPeriod is in days.
	MoonOrbitalPeriod = 27.3

	// DefaultPresetDelay is the delay of the fixed preset model.
	DefaultPresetDelay = 10 * time.Second

	secondsPerDay = 86400.0
)

// ErrUnknownModel is returned by ByName for an unrecognised model name.
var ErrUnknownModel = errors.New("unknown delay model")

// Model computes the propagation delay for an item admitted at now.
// Implementations are pure functions of now and never return a negative
// duration.
type Model interface {
	Delay(now time.Time) time.Duration
	Name() string
}

// Fixed returns a constant delay.
type Fixed struct {
	D time.Duration
}

// Delay returns the configured constant, clamped at zero.
func (f Fixed) Delay(time.Time) time.Duration {
	if f.D < 0 {
		return 0
	}
	return f.D
}

// Name returns "fixed".
func (Fixed) Name() string { return "fixed" }

// Body is a point on a circular orbit around a common center.
type Body struct {
	RadiusKm   float64
	PeriodDays float64
}

// Angle returns the orbital angle in radians at Unix time t (seconds).
func (b Body) Angle(t float64) float64 {
	if b.PeriodDays == 0 {
		return 0
	}
	return math.Mod((t/secondsPerDay)*2*math.Pi/b.PeriodDays, 2*math.Pi)
}

// Position returns the body's cartesian coordinates in km at Unix time t.
func (b Body) Position(t float64) (x, y float64) {
	a := b.Angle(t)
	return b.RadiusKm * math.Cos(a), b.RadiusKm * math.Sin(a)
}

// Orbital models two bodies on independent circular orbits. The delay is the
// light time across the straight line joining them.
type Orbital struct {
	Label string
	A     Body
	B     Body
	// Speed is the propagation speed in km/s; SpeedOfLight when zero.
	Speed float64
}

// Distance returns the separation in km at now.
func (o Orbital) Distance(now time.Time) float64 {
	t := unixSeconds(now)
	ax, ay := o.A.Position(t)
	bx, by := o.B.Position(t)
	return math.Hypot(bx-ax, by-ay)
}

// Delay returns Distance(now) / Speed.
func (o Orbital) Delay(now time.Time) time.Duration {
	return lightTime(o.Distance(now), o.Speed)
}

// Name returns the model label.
func (o Orbital) Name() string {
	if o.Label == "" {
		return "orbital"
	}
	return o.Label
}

// Sinusoidal models a single body whose distance swings around a mean value
// with one period.
type Sinusoidal struct {
	Label       string
	MeanKm      float64
	VariationKm float64
	PeriodDays  float64
	// Cosine selects cos instead of sin for the phase term.
	Cosine bool
	// Speed is the propagation speed in km/s; SpeedOfLight when zero.
	Speed float64
}

// Distance returns the distance in km at now.
func (s Sinusoidal) Distance(now time.Time) float64 {
	phase := Body{PeriodDays: s.PeriodDays}.Angle(unixSeconds(now))
	swing := math.Sin(phase)
	if s.Cosine {
		swing = math.Cos(phase)
	}
	return s.MeanKm + s.VariationKm*swing
}

// Delay returns Distance(now) / Speed.
func (s Sinusoidal) Delay(now time.Time) time.Duration {
	return lightTime(s.Distance(now), s.Speed)
}

// Name returns the model label.
func (s Sinusoidal) Name() string {
	if s.Label == "" {
		return "sinusoidal"
	}
	return s.Label
}

// Mars returns the Earth-Mars orbital model.
func Mars() Orbital {
	return Orbital{
		Label: "mars",
		A:     Body{RadiusKm: EarthOrbitalRadius, PeriodDays: EarthOrbitalPeriod},
		B:     Body{RadiusKm: MarsOrbitalRadius, PeriodDays: MarsOrbitalPeriod},
		Speed: SpeedOfLight,
	}
}

// Moon returns the Earth-Moon sinusoidal model.
func Moon() Sinusoidal {
	return Sinusoidal{
		Label:       "moon",
		MeanKm:      MoonMeanDistance,
		VariationKm: MoonDistanceVariation,
		PeriodDays:  MoonOrbitalPeriod,
		Speed:       SpeedOfLight,
	}
}

// Preset returns a fixed model with delay d.
func Preset(d time.Duration) Fixed {
	return Fixed{D: d}
}

// ByName resolves a model from its configuration name. fixed is only used by
// the "fixed" model.
func ByName(name string, fixed time.Duration) (Model, error) {
	switch name {
	case "fixed":
		return Preset(fixed), nil
	case "mars":
		return Mars(), nil
	case "moon":
		return Moon(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func lightTime(distanceKm, speed float64) time.Duration {
	if speed <= 0 {
		speed = SpeedOfLight
	}
	if distanceKm <= 0 {
		return 0
	}
	return time.Duration(distanceKm / speed * float64(time.Second))
}

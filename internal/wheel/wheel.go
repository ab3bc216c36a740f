// Package wheel implements the reward wheel: daily and earned spins, the
// weighted prize draw, and the per-session spin lifecycle.
package wheel

import (
	"errors"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
)

var (
	// ErrNoSpins is returned when neither the daily spin nor any extra
	// spin is available.
	ErrNoSpins = errors.New("no spins available")
	// ErrSpinInFlight is returned when a spin is requested while another
	// one is still resolving for the same session.
	ErrSpinInFlight = errors.New("spin already in progress")
	// ErrNotShowingResult is returned when close is called outside the
	// result phase.
	ErrNotShowingResult = errors.New("no result to close")
)

// State is the wheel lifecycle phase for one session.
type State string

const (
	StateIdle        State = "idle"
	StateSpinning    State = "spinning"
	StateResultShown State = "result_shown"
)

// SpinSource records which currency paid for a spin.
type SpinSource string

const (
	SourceDaily SpinSource = "daily"
	SourceExtra SpinSource = "extra"
)

// Result is the outcome of one spin.
type Result struct {
	Prize      catalog.Prize `json:"prize"`
	Source     SpinSource    `json:"source"`
	SpunAt     time.Time     `json:"spunAt"`
	RevealedAt time.Time     `json:"revealedAt"`
}

// Status is the wheel snapshot returned to callers.
type Status struct {
	State           State   `json:"state"`
	DailyAvailable  bool    `json:"dailyAvailable"`
	ExtraSpins      int     `json:"extraSpins"`
	SpinsRemaining  int     `json:"spinsRemaining"`
	LastDailySpin   string  `json:"lastDailySpin,omitempty"`
	PendingResult   *Result `json:"pendingResult,omitempty"`
	RevealDelayMsec int64   `json:"revealDelayMs"`
}

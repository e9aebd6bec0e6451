package arena

import (
	"sync"

	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

// Calibrate button labels.
const (
	LabelCalibrate       = "Calibrate"
	LabelStopCalibrating = "Stop Calibrating"
)

// CalibrationToggle is the operator's calibrate button. Its label follows
// the calibration state; ToggleCalibrating may be called from any goroutine
// and always refreshes the label on the UI loop. Refreshing reads the state
// rather than flipping a flag, so extra calls are harmless.
type CalibrationToggle struct {
	loop        uiloop.Submitter
	calibrating func() bool
	onChange    func(label string)

	mu    sync.Mutex
	label string
}

// NewCalibrationToggle creates a toggle reading state from calibrating.
// onChange, if set, is called on the UI loop whenever the label changes.
func NewCalibrationToggle(loop uiloop.Submitter, calibrating func() bool, onChange func(label string)) *CalibrationToggle {
	return &CalibrationToggle{loop: loop, calibrating: calibrating, onChange: onChange, label: LabelCalibrate}
}

// ToggleCalibrating implements calibration.Toggler.
func (t *CalibrationToggle) ToggleCalibrating() {
	if !t.loop.Submit(t.refresh) {
		monitoring.Debugf("[arena] calibrate toggle refresh dropped")
	}
}

// Label returns the current button label.
func (t *CalibrationToggle) Label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.label
}

func (t *CalibrationToggle) refresh() {
	label := LabelCalibrate
	if t.calibrating != nil && t.calibrating() {
		label = LabelStopCalibrating
	}
	t.mu.Lock()
	changed := t.label != label
	t.label = label
	t.mu.Unlock()
	if changed && t.onChange != nil {
		t.onChange(label)
	}
}

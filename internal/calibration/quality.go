package calibration

// Quality represents the assessed quality of a calibration fit.
type Quality string

const (
	// QualityExcellent indicates RMSE < 1px
	QualityExcellent Quality = "excellent"
	// QualityGood indicates RMSE 1-3px, fine for scoring
	QualityGood Quality = "good"
	// QualityFair indicates RMSE 3-8px, usable but consider recalibrating
	QualityFair Quality = "fair"
	// QualityPoor indicates RMSE > 8px, recalibrate
	QualityPoor Quality = "poor"
	// QualityUnknown indicates an exact fit with no redundant samples
	QualityUnknown Quality = "unknown"
)

// RMSE thresholds in display pixels.
const (
	RMSEThresholdExcellent = 1.0
	RMSEThresholdGood      = 3.0
	RMSEThresholdFair      = 8.0
)

// GradeRMSE grades a fit. With no more samples than the model minimum the
// fit is exact by construction and the RMSE says nothing, so it is unknown.
func GradeRMSE(rmse float64, samples, minSamples int) Quality {
	switch {
	case samples <= minSamples:
		return QualityUnknown
	case rmse < RMSEThresholdExcellent:
		return QualityExcellent
	case rmse < RMSEThresholdGood:
		return QualityGood
	case rmse < RMSEThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// UsableForScoring reports whether shots mapped through a fit of this quality
// can be trusted. Unknown is allowed: four clean corners are the common case.
func (q Quality) UsableForScoring() bool {
	return q != QualityPoor
}

// String returns a human-readable description of the quality.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent (RMSE < 1px)"
	case QualityGood:
		return "good (RMSE 1-3px)"
	case QualityFair:
		return "fair (RMSE 3-8px)"
	case QualityPoor:
		return "poor (RMSE > 8px)"
	case QualityUnknown:
		return "unknown (exact fit)"
	default:
		return string(q)
	}
}

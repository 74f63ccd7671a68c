package core

// Status is the tri-state outcome of an assembly or pipeline stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// DeriveStatus collapses error/warning counts into a Status: any error wins,
// then any warning, otherwise success.
func DeriveStatus(errorCount, warningCount int) Status {
	switch {
	case errorCount > 0:
		return StatusError
	case warningCount > 0:
		return StatusWarning
	default:
		return StatusSuccess
	}
}

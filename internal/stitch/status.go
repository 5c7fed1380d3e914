package stitch

import "fmt"

// Status is the outcome code of a stitch attempt. The non-negative values
// follow the OpenCV Stitcher status codes.
type Status int

const (
	StatusFailed                          Status = -1 // generic failure, including faults raised by the primitive
	StatusOK                              Status = 0
	StatusNeedMoreImages                  Status = 1
	StatusHomographyEstimationFailed      Status = 2
	StatusCameraParameterAdjustmentFailed Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNeedMoreImages:
		return "need_more_images"
	case StatusHomographyEstimationFailed:
		return "homography_estimation_failed"
	case StatusCameraParameterAdjustmentFailed:
		return "camera_parameter_adjustment_failed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message returns the human readable explanation printed for a failed stitch.
func (s Status) Message() string {
	switch s {
	case StatusOK:
		return "image stitching successful"
	case StatusNeedMoreImages:
		return "ERR_NEED_MORE_IMGS: Need more input images to construct panorama"
	case StatusHomographyEstimationFailed:
		return "ERR_HOMOGRAPHY_EST_FAIL: Homography estimation failed"
	case StatusCameraParameterAdjustmentFailed:
		return "ERR_CAMERA_PARAMS_ADJUST_FAIL: Camera parameter adjustment failed"
	default:
		return fmt.Sprintf("image stitching failed with status %d", int(s))
	}
}

// OK reports whether the status indicates success.
func (s Status) OK() bool { return s == StatusOK }

package pose

import "github.com/andresmejia3/posesync/internal/types"

// Centroid is the arithmetic mean of the keypoint positions. Scores are ignored: every keypoint
// weighs the same.
func Centroid(p types.Pose) (types.Point2D, error) {
	n := len(p.Keypoints)
	if n == 0 {
		return types.Point2D{}, ErrNoKeypoints
	}

	var c types.Point2D
	for _, kp := range p.Keypoints {
		c.X += kp.X
		c.Y += kp.Y
	}
	c.X /= float64(n)
	c.Y /= float64(n)

	if !c.Finite() {
		return types.Point2D{}, ErrNonFinite
	}
	return c, nil
}

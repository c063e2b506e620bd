package pose

import "math"

// CalculateAngle returns the angle at mid formed by first-mid-last, in
// degrees within [0, 180].
func CalculateAngle(first, mid, last Point) float64 {
	radians := math.Atan2(last.Y-mid.Y, last.X-mid.X) - math.Atan2(first.Y-mid.Y, first.X-mid.X)
	angle := math.Abs(radians * 180.0 / math.Pi)

	if angle > 180 {
		angle = 360 - angle
	}

	return angle
}

// SpineAngle returns the tilt of the shoulder line and the shoulder midpoint.
// The angle is the absolute arctangent of the left-to-right shoulder vector
// and is not folded back into [0, 90].
func SpineAngle(leftShoulder, rightShoulder Point) (float64, Point) {
	dx := rightShoulder.X - leftShoulder.X
	dy := rightShoulder.Y - leftShoulder.Y

	angle := math.Abs(math.Atan2(dy, dx) * 180.0 / math.Pi)
	center := Point{
		X: (leftShoulder.X + rightShoulder.X) / 2,
		Y: (leftShoulder.Y + rightShoulder.Y) / 2,
	}
	return angle, center
}

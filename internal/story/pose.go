// Package story holds the static storybook definition: the page table, the
// pose each child-bearing page needs, the localized page text, and the art
// direction handed to image providers.
//
// Everything here is pure data plus lookups. Nothing performs I/O.
package story

import "fmt"

// Pose is the head orientation a page's illustration requires for the child.
type Pose string

const (
	PoseProfileLeft        Pose = "profile-left"
	PoseProfileRight       Pose = "profile-right"
	PoseThreeQuarter       Pose = "three-quarter"
	PoseFrontFacing        Pose = "front-facing"
	PoseLookingUp          Pose = "looking-up"
	PoseLookingDownClose   Pose = "looking-down-close"
	PoseLookingDownDistant Pose = "looking-down-distant"
)

// AllPoses is the fixed pose set a full portrait run generates.
var AllPoses = []Pose{
	PoseProfileLeft,
	PoseProfileRight,
	PoseThreeQuarter,
	PoseFrontFacing,
	PoseLookingUp,
	PoseLookingDownClose,
	PoseLookingDownDistant,
}

// Valid reports whether p is one of the known poses.
func (p Pose) Valid() bool {
	for _, known := range AllPoses {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePose converts a wire value into a Pose.
func ParsePose(s string) (Pose, error) {
	p := Pose(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown pose %q", s)
	}
	return p, nil
}

// poseDirections is the art direction given to the portrait stylizer for
// each pose. Wording is deliberately short; providers weigh early tokens most.
var poseDirections = map[Pose]string{
	PoseProfileLeft:        "full side profile, head turned to the left, one eye visible, ear visible",
	PoseProfileRight:       "full side profile, head turned to the right, one eye visible, ear visible",
	PoseThreeQuarter:       "three-quarter view, head turned slightly away from camera, both eyes visible",
	PoseFrontFacing:        "facing the camera directly, symmetrical, gentle smile",
	PoseLookingUp:          "chin raised, looking upward with wonder, eyes toward the sky",
	PoseLookingDownClose:   "looking down at something held close, eyelids lowered, close-up framing",
	PoseLookingDownDistant: "looking down at the ground from a distance, small in frame, head tilted down",
}

// PortraitStyle is appended to every pose prompt so all portraits of one run
// share a look that blends into the book's watercolor illustrations.
const PortraitStyle = "soft watercolor children's book illustration, warm palette, clean outlines, plain light background"

// NegativePrompt lists what the portrait stylizer must avoid.
const NegativePrompt = "photorealistic, extra faces, distorted features, text, watermark, harsh shadows, adult proportions"

// PoseDirection returns the full stylization prompt for a pose.
func PoseDirection(p Pose) string {
	dir, ok := poseDirections[p]
	if !ok {
		dir = poseDirections[PoseFrontFacing]
	}
	return "portrait of a young child, " + dir + ", " + PortraitStyle
}

package tracker

import iface "PassengerCounter/interface"

// Direction is the net horizontal movement of a track relative to the line.
type Direction uint8

const (
	None Direction = iota
	RightToLeft
	LeftToRight
)

func (d Direction) String() string {
	switch d {
	case RightToLeft:
		return "right_to_left"
	case LeftToRight:
		return "left_to_right"
	default:
		return "none"
	}
}

// Event is the logical counter a crossing increments.
type Event uint8

const (
	NoEvent Event = iota
	Entered
	Exited
)

func (e Event) String() string {
	switch e {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "none"
	}
}

// Evaluate compares the oldest and newest positions of a history against the line.
// Intermediate samples are ignored, so a track that went back and forth counts
// only by its net displacement.
func Evaluate(history []float64, linePos float64) Direction {
	if len(history) < 2 {
		return None
	}
	first := history[0]
	last := history[len(history)-1]
	switch {
	case first > linePos && last < linePos:
		return RightToLeft
	case first < linePos && last > linePos:
		return LeftToRight
	default:
		return None
	}
}

// Classify maps a direction to a counter. invert accounts for the camera
// being mounted the other way round.
func Classify(dir Direction, invert bool) Event {
	var ev Event
	switch dir {
	case RightToLeft:
		ev = Exited
	case LeftToRight:
		ev = Entered
	default:
		return NoEvent
	}
	if invert {
		if ev == Entered {
			return Exited
		}
		return Entered
	}
	return ev
}

// Centers reduces raw detections to the x-centres of confident detections of class.
func Centers(detections []iface.Detection, class string, minConf float32) []float64 {
	centers := make([]float64, 0, len(detections))
	for _, d := range detections {
		if d.Class != class || d.Conf <= minConf {
			continue
		}
		centers = append(centers, float64(d.Center.X))
	}
	return centers
}

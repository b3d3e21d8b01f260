package iface

import "time"

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RB Position
}

// Detection is one object reported by the detector for a single frame.
type Detection struct {
	Class  string
	Conf   float32
	Box    Box
	Center Position
}

// Snapshot is the part of the remote record the counter cares about.
type Snapshot struct {
	PassengerCount int `json:"passenger_count"`
}

// LogEntry is the immutable audit record written when a session is committed.
type LogEntry struct {
	SessionID         string `json:"session_id"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	Timestamp         int64  `json:"timestamp"`
	Event             string `json:"event"`
	SessionIn         int    `json:"session_in"`
	SessionOut        int    `json:"session_out"`
	NewTotalPassenger int    `json:"new_total_passenger"`
}

const EventStopCompleted = "stop_completed"

// NewLogEntry stamps an entry with the local date and time of ts.
func NewLogEntry(sessionID string, ts time.Time, total, in, out int) LogEntry {
	return LogEntry{
		SessionID:         sessionID,
		Date:              ts.Format("2006-01-02"),
		Time:              ts.Format("15:04:05"),
		Timestamp:         ts.Unix(),
		Event:             EventStopCompleted,
		SessionIn:         in,
		SessionOut:        out,
		NewTotalPassenger: total,
	}
}

// ChangeEvent is a raw change notification from a subscribed path.
// Data holds the JSON payload exactly as the store sent it.
type ChangeEvent struct {
	Path string
	Data []byte
}

package lamport

import "fmt"

// Pid identifies a process of the deployment.
type Pid uint16

// Timestamp totally orders events across processes: by time, then by the process instance's tie-break, then by pid.
//
// Every process compares the three fields in the same way, so every process agrees on the order.
type Timestamp struct {
	Time     Time
	TieBreak uint32
	Pid      Pid
}

// LessThan reports whether ts is strictly before other.
func (ts Timestamp) LessThan(other Timestamp) bool {
	if ts.Time != other.Time {
		return ts.Time < other.Time
	}
	if ts.TieBreak != other.TieBreak {
		return ts.TieBreak < other.TieBreak
	}
	return ts.Pid < other.Pid
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("TS(%d:%d/%d)", ts.Pid, ts.Time, ts.TieBreak)
}

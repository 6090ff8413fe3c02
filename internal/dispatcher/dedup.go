package dispatcher

// Number of most recent sequence numbers remembered per sender instance.
const dedupWindowSize = 512

// Remembers the last sequence numbers seen from one sender, in arrival order.
type dedupWindow struct {
	seen  map[uint16]struct{}
	order []uint16
	next  int
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{
		seen:  make(map[uint16]struct{}, dedupWindowSize),
		order: make([]uint16, 0, dedupWindowSize),
	}
}

// Records seq and reports whether it had already been seen within the window.
func (w *dedupWindow) observe(seq uint16) (duplicate bool) {
	if _, ok := w.seen[seq]; ok {
		return true
	}

	if len(w.order) < dedupWindowSize {
		w.order = append(w.order, seq)
	} else {
		delete(w.seen, w.order[w.next])
		w.order[w.next] = seq
		w.next = (w.next + 1) % dedupWindowSize
	}
	w.seen[seq] = struct{}{}
	return false
}

// Window of the current instance of one sender.
type senderWindow struct {
	tieBreak uint32
	window   *dedupWindow
}

/*
Keeps one window per sender id. A sender whose tie-break changed was restarted: its sequence numbers start over and
the previous instance is gone, so its window is replaced rather than kept alongside.
*/
type deduplicator map[uint16]*senderWindow

func (d deduplicator) isDuplicate(id uint16, tieBreak uint32, seq uint16) bool {
	s, ok := d[id]
	if !ok || s.tieBreak != tieBreak {
		s = &senderWindow{tieBreak: tieBreak, window: newDedupWindow()}
		d[id] = s
	}
	return s.window.observe(seq)
}

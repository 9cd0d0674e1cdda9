package bufferpool

// noFrame terminates a frame list.
const noFrame = -1

// frameLink is one intrusive membership of a frame. Links are stored in
// per-list arrays indexed by frame number, so a frame can sit in a hash
// bucket, the free list and a file's page list at the same time.
type frameLink struct {
	prev   int
	next   int
	linked bool
}

// frameList is a doubly linked list of frame numbers.
type frameList struct {
	head int
	tail int
	size int
}

func newFrameList() frameList {
	return frameList{head: noFrame, tail: noFrame}
}

func (l *frameList) empty() bool { return l.head == noFrame }

func (l *frameList) pushFront(links []frameLink, i int) {
	links[i] = frameLink{prev: noFrame, next: l.head, linked: true}
	if l.head != noFrame {
		links[l.head].prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.size++
}

func (l *frameList) pushBack(links []frameLink, i int) {
	links[i] = frameLink{prev: l.tail, next: noFrame, linked: true}
	if l.tail != noFrame {
		links[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.size++
}

// remove unlinks frame i. Removing a frame that is not linked is a no-op.
func (l *frameList) remove(links []frameLink, i int) {
	link := links[i]
	if !link.linked {
		return
	}
	if link.prev != noFrame {
		links[link.prev].next = link.next
	} else {
		l.head = link.next
	}
	if link.next != noFrame {
		links[link.next].prev = link.prev
	} else {
		l.tail = link.prev
	}
	links[i] = frameLink{prev: noFrame, next: noFrame}
	l.size--
}

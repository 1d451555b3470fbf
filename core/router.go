package core

// receiverSet is an insertion-ordered set of receivers. Dispatch walks it in
// registration order, which keeps ticks deterministic.
type receiverSet struct {
	list  []Receiver
	index map[Receiver]int
}

func newReceiverSet() *receiverSet {
	return &receiverSet{index: make(map[Receiver]int)}
}

func (s *receiverSet) add(r Receiver) bool {
	if _, ok := s.index[r]; ok {
		return false
	}
	s.index[r] = len(s.list)
	s.list = append(s.list, r)
	return true
}

func (s *receiverSet) remove(r Receiver) bool {
	i, ok := s.index[r]
	if !ok {
		return false
	}
	delete(s.index, r)
	s.list = append(s.list[:i], s.list[i+1:]...)
	for j := i; j < len(s.list); j++ {
		s.index[s.list[j]] = j
	}
	return true
}

func (s *receiverSet) contains(r Receiver) bool {
	_, ok := s.index[r]
	return ok
}

func (s *receiverSet) len() int {
	return len(s.list)
}

func (s *receiverSet) snapshot() []Receiver {
	return append([]Receiver(nil), s.list...)
}

// registration is the manager-owned record of a registered receiver.
type registration struct {
	id    ReceiverID
	group string
}

// candidate pairs a receiver with its id for lock-free dispatch.
type candidate struct {
	r  Receiver
	id ReceiverID
}

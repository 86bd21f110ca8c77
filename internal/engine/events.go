package engine

// event is the sealed set of inputs the executor loop consumes. Producers
// build events and enqueue them; only the loop goroutine acts on them.
type event interface {
	isEvent()
}

// timelineDue fires one offset group of the active state's timeline.
// Entries in the group share an offset and dispatch in declaration order.
type timelineDue struct {
	seq     uint64
	entries []int
}

// timeoutDue fires the active state's timeout transition at index trans.
type timeoutDue struct {
	seq   uint64
	trans int
}

// globalDue fires one scene-scoped global event.
type globalDue struct {
	runSeq uint64
	index  int
}

// messageIn is an inbound publish on a scene trigger topic.
type messageIn struct {
	topic   string
	payload string
}

// buttonIn is a physical button press.
type buttonIn struct {
	id string
}

// mediaEndIn reports a file that finished playing on its own.
type mediaEndIn struct {
	video bool
	file  string
}

// startCmd asks the loop to start a scene, replacing any active run.
// reply may be nil for fire-and-forget senders (the control topic).
type startCmd struct {
	sceneID string
	source  string
	reply   chan error
}

// stopCmd asks the loop to stop the active run.
type stopCmd struct {
	source string
	reply  chan error
}

func (timelineDue) isEvent() {}
func (timeoutDue) isEvent()  {}
func (globalDue) isEvent()   {}
func (messageIn) isEvent()   {}
func (buttonIn) isEvent()    {}
func (mediaEndIn) isEvent()  {}
func (startCmd) isEvent()    {}
func (stopCmd) isEvent()     {}

package fleet

type ObserverJoinRequest struct {
	SessionID   string
	Out         chan []byte
	EveryNTicks int
}

type observerSub struct {
	id    string
	out   chan []byte
	every int
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	every := req.EveryNTicks
	if every <= 0 {
		every = w.cfg.FrameEveryTicks
	}
	w.observers[req.SessionID] = &observerSub{id: req.SessionID, out: req.Out, every: every}

	// Late joiners get the current frame right away.
	if f := w.frame.Load(); f != nil {
		if b, err := jsonFrame(f); err == nil {
			sendLatest(req.Out, b)
		}
	}
}

func (w *World) handleObserverLeave(id string) {
	delete(w.observers, id)
}

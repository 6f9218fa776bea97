package steps

// EventDispatcherStep installs the event_dispatcher used to emit
// task-received events (spec §2, §4.5 step 3). Optional: it's a no-op
// when events are disabled in settings.
type EventDispatcherStep struct{}

func (EventDispatcherStep) Name() string        { return "event-dispatcher" }
func (EventDispatcherStep) Requires() []string  { return []string{"connection"} }
func (EventDispatcherStep) Last() bool          { return false }
func (EventDispatcherStep) DelayShutdown() bool { return false }

func (EventDispatcherStep) Create(parent any) error {
	h := parent.(Host)
	if !h.Settings().EventsEnabled {
		return nil
	}
	h.SetEventDispatcher(h.NewEventDispatcher())
	return nil
}

func (EventDispatcherStep) Start(parent any) error { return nil }
func (EventDispatcherStep) Stop(parent any) error  { return nil }

func (EventDispatcherStep) Shutdown(parent any, force bool) error {
	h := parent.(Host)
	d := h.EventDispatcher()
	if d == nil {
		return nil
	}
	return d.Close()
}

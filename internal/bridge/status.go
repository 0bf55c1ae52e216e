package bridge

import "fmt"

// Status is a point-in-time readout of the bridge.
type Status struct {
	Running    bool
	LinkUp     bool
	Pixels     int
	ReadyBytes int
	SessionID  string
	Device     string
	ListenAddr string
}

func (s Status) String() string {
	if !s.Running || !s.LinkUp {
		return "Not Connected"
	}
	return fmt.Sprintf("Connected. Pixel count is: %d", s.Pixels)
}

func (b *Bridge) Status() Status {
	s := b.cur.Load()
	if s == nil {
		return Status{}
	}
	st := Status{
		Running:    s.running.Load(),
		LinkUp:     s.linkUp.Load(),
		Pixels:     s.fb.PixelCount(),
		ReadyBytes: s.fb.ReadyLen(),
		SessionID:  s.id,
		Device:     s.device,
	}
	if s.srv != nil {
		st.ListenAddr = s.srv.Addr()
	}
	return st
}

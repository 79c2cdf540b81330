package stream

// multiSink fans events out to several sinks. Close closes all of them.
type multiSink struct {
	sinks []Sink
}

// Multi combines sinks into one. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return &multiSink{sinks: kept}
}

func (m *multiSink) Send(t Type, payload any) {
	for _, s := range m.sinks {
		s.Send(t, payload)
	}
}

func (m *multiSink) Close() {
	for _, s := range m.sinks {
		s.Close()
	}
}

// Discard is a Sink that drops everything. Used for background turns that
// have no attached client.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Send(Type, any) {}
func (discardSink) Close()         {}

package journal

// multiWriter fans a single event out to several journalers, the way the
// CLI wires the on-disk journal together with the human or syslog sink: one
// Write call, every sink sees it.
type multiWriter struct {
	writers []Journaler
}

// MultiWriter combines several journalers into one. The first error from
// any writer is returned, but every writer is still given the event.
func MultiWriter(writers ...Journaler) Journaler {
	return &multiWriter{writers: writers}
}

func (m *multiWriter) Write(ev Event) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Write(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

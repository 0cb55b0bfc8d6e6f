package metrics

import "testing"

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *Registry
	// None of these should panic on a nil receiver.
	r.Restart("crash")
	r.Reload("ok")
	r.SetChildUp("fdbserver.1", true)
	r.Tick()
}

func TestRegistryRecordsWithoutPanicking(t *testing.T) {
	r := New()
	r.Restart("crash")
	r.Reload("ok")
	r.SetChildUp("fdbserver.1", true)
	r.SetChildUp("fdbserver.1", false)
	r.Tick()
}

package lti

// Observer receives login and launch outcomes (metrics).
type Observer interface {
	ObserveLogin(outcome string)
	ObserveLaunch(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveLogin(string)  {}
func (nopObserver) ObserveLaunch(string) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

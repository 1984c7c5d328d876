package monitor

import "time"

// Status is the last observed health of the service dependencies.
type Status struct {
	PostgreSQL     bool      `json:"postgresql"`
	Redis          bool      `json:"redis"`
	Broker         bool      `json:"broker"`
	DeadLetter     bool      `json:"dead_letter_store"`
	DeadLetterSize int       `json:"dead_letter_size"`
	LastCheck      time.Time `json:"last_check"`
}

// Online reports whether the request path and the event pipeline can run.
func (s Status) Online() bool {
	return s.PostgreSQL && s.Redis && s.Broker
}

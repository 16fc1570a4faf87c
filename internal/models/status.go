// internal/models/status.go
package models

// Status is the lifecycle state of a harvest batch.
type Status string

const (
	StatusLogged   Status = "logged"
	StatusVerified Status = "verified"
	StatusShipped  Status = "shipped"
)

var statusRank = map[Status]int{
	StatusLogged:   0,
	StatusVerified: 1,
	StatusShipped:  2,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next goes strictly forward.
func (s Status) CanTransitionTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	return s == StatusShipped
}

package entity

// Actor is the authenticated identity performing an operation
type Actor struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SystemActor performs side effects and scheduled transitions
var SystemActor = Actor{Code: "system", Name: "System"}

// IsSystem reports whether the actor is the built-in system actor
func (a Actor) IsSystem() bool {
	return a.Code == SystemActor.Code
}

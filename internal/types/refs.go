package types

import "time"

// User is an operator that can be assigned to an hour.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Mold is a tool that can be mounted on a machine for an hour.
type Mold struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Machine is a production machine as returned by the data service.
type Machine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Color  string `json:"color,omitempty"`
}

// MachineState is the machine-level indicator shown next to the timeline.
type MachineState struct {
	Status    string    `json:"status"`
	Color     string    `json:"color,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// FindUser looks up a user by id.
func FindUser(users []User, id string) (User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// FindMold looks up a mold by id.
func FindMold(molds []Mold, id string) (Mold, bool) {
	for _, m := range molds {
		if m.ID == id {
			return m, true
		}
	}
	return Mold{}, false
}

package domain

import "time"

// User is the domain model for every principal: submitters, agents and
// administrators alike, differentiated only by Role.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

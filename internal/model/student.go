package model

import "time"

// Student is the identity the attempt engine operates on behalf of.
// Account management lives in the wider LMS; the engine only needs the id
// and enough profile to seed demo data and render monitor snapshots.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	ClassName    string    `json:"class_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

package domain

import "time"

// Districts lists the accepted branch locations.
var Districts = []string{
	"Berea",
	"Butha-Buthe",
	"Leribe",
	"Mafeteng",
	"Maseru",
	"Mohale's Hoek",
	"Mokhotlong",
	"Qacha's Nek",
	"Quthing",
	"Thaba-Tseka",
}

func ValidDistrict(location string) bool {
	for _, d := range Districts {
		if d == location {
			return true
		}
	}
	return false
}

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"branch_name"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BranchRequest struct {
	Name     string `json:"branch_name" validate:"required,min=2"`
	Location string `json:"location" validate:"required,district"`
}

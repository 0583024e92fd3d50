package models

import "time"

// PeopleGroup is one ethnolinguistic group within a country. Month and Day place the group
// on the "people group of the day" calendar; groups without a slot leave both nil.
type PeopleGroup struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	CountryCode     string    `db:"country_code" json:"country_code"`
	CountryName     string    `db:"country_name" json:"country_name"`
	Population      int64     `db:"population" json:"population"`
	PrimaryReligion *string   `db:"primary_religion" json:"primary_religion"`
	PrimaryLanguage *string   `db:"primary_language" json:"primary_language"`
	LeastReached    bool      `db:"least_reached" json:"least_reached"`
	Month           *int      `db:"month" json:"month"`
	Day             *int      `db:"day" json:"day"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

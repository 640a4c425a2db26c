package entity

import (
	"fmt"
	"strings"
)

// Author is a row of the Autor table. ID is supplied by the caller and is the primary key.
type Author struct {
	ID        int64  `json:"id" mapstructure:"id" yaml:"id"`
	FirstName string `json:"first_name" mapstructure:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" mapstructure:"last_name" yaml:"last_name"`
}

// FullName joins first and last name the way the listing prints them.
func (a Author) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

func (a Author) String() string {
	return fmt.Sprintf("%d\t%s", a.ID, a.FullName())
}

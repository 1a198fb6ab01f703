package shipping

import (
	"errors"
	"strings"
)

var ErrAddressIncomplete = errors.New("shipping: address requires name, line1, city, postal code and country")

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	for _, v := range []string{a.Name, a.Line1, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(v) == "" {
			return ErrAddressIncomplete
		}
	}
	return nil
}

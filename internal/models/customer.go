package models

const RoleCustomer = "customer"

// CustomerPublic is the subset of the customer row safe to return in
// operator queue listings. Customer rows cover both registered accounts and
// credential-less guest rows minted for walk-in billing; guests are
// de-duplicated by phone number when one is provided.
type CustomerPublic struct {
	CustomerID string `json:"customer_id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Guest      bool   `json:"guest"`
}

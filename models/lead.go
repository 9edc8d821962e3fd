package models

// Lead is a business contact form submission
type Lead struct {
	FirstName   string `json:"firstname" validate:"required"`
	LastName    string `json:"lastname" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Company     string `json:"company,omitempty"`
	CompanySize string `json:"companySize,omitempty"`
	Profession  string `json:"profession,omitempty"`
	Country     string `json:"country,omitempty" validate:"omitempty,len=2"`
	Message     string `json:"message,omitempty"`
}

package dto

// This package contains DTO (Data Transfer Object) structures
// for providing validated and sanitized values to service layer

type PubKeyDTO struct {
	Identity string
}

type JobDTO struct {
	Kind string
	ID   string
}

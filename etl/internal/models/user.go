package models

import "time"

// User is one synthetic user record served by the users endpoint.
type User struct {
	ID         int64  `json:"id"`
	UUID       string `json:"uuid"`
	Firstname  string `json:"firstname"`
	Lastname   string `json:"lastname"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Email      string `json:"email"`
	IP         string `json:"ip"`
	MacAddress string `json:"macAddress"`
	Website    string `json:"website"`
	Image      string `json:"image"`

	// Provenance, nil until the record is stamped for a run.
	PipelineID        *string    `json:"pipeline_id"`
	PipelineTimestamp *time.Time `json:"pipeline_timestamp"`
}

// Stamped reports whether both provenance fields are set.
func (u User) Stamped() bool {
	return u.PipelineID != nil && u.PipelineTimestamp != nil
}

// Batch is the ordered set of records produced by one fetch and validate
// cycle. A Batch handed out by the validator is never empty.
type Batch []User

// UsersResponse is the envelope returned by the users endpoint.
type UsersResponse struct {
	Status string `json:"status,omitempty"`
	Code   int    `json:"code,omitempty"`
	Total  int    `json:"total,omitempty"`
	Data   []User `json:"data"`
}

// Package model holds the model types used by the storage layer's own
// tests. The hierarchy Employee <- Manager exercises polymorphic
// queries; Badge exercises opaque serialized attributes.
package model

import (
	"encoding/json"
	"time"

	"github.com/kitaindia/slim3/datastore/record"
)

// Badge is an opaque credential stored in its serialized form
type Badge struct {
	Code  string
	Level int
}

func (b Badge) MarshalBinary() ([]byte, error) {
	return json.Marshal(b)
}

func (b *Badge) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, b)
}

// Employee is the root of the test hierarchy
type Employee struct {
	Key     *record.Key
	Name    string
	Age     int64
	Joined  time.Time
	Salary  record.Decimal
	Bio     string
	Avatar  []byte
	Badge   Badge
	Version int64
}

// Manager is an Employee with direct reports. It shares Employee's
// storage kind.
type Manager struct {
	Employee
	Reports int64
}

// Package meta holds the hand-written descriptor factories for the test
// model types, shaped the way a descriptor generator would emit them.
package meta

import (
	"time"

	dsmeta "github.com/kitaindia/slim3/datastore/meta"
	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/internal/model"
)

var (
	employeeName = dsmeta.NameOf(&model.Employee{})
	managerName  = dsmeta.NameOf(&model.Manager{})
)

// Register installs the descriptor factories for every test model type
func Register(registry *dsmeta.Registry) {
	registry.Register(dsmeta.MetaName(employeeName), EmployeeMeta)
	registry.Register(dsmeta.MetaName(managerName), ManagerMeta)
}

// EmployeeMeta builds the descriptor for model.Employee
func EmployeeMeta() *dsmeta.ModelMeta {
	return &dsmeta.ModelMeta{
		Kind:       "Employee",
		ModelName:  employeeName,
		Attributes: employeeAttributes(func(m any) *model.Employee { return m.(*model.Employee) }),
		Version:    employeeVersion(func(m any) *model.Employee { return m.(*model.Employee) }),
		Key: dsmeta.KeyBinding{
			Get: func(m any) *record.Key { return m.(*model.Employee).Key },
			Set: func(m any, key *record.Key) { m.(*model.Employee).Key = key },
		},
		New: func() any { return &model.Employee{} },
	}
}

// ManagerMeta builds the descriptor for model.Manager. Managers share
// the Employee kind and extend its attributes.
func ManagerMeta() *dsmeta.ModelMeta {
	employee := func(m any) *model.Employee { return &m.(*model.Manager).Employee }

	attributes := employeeAttributes(employee)
	attributes = append(attributes, dsmeta.Attribute{
		Name: "reports",
		Type: dsmeta.Int,
		Get:  func(m any) any { return m.(*model.Manager).Reports },
		Set:  func(m any, v any) error { m.(*model.Manager).Reports = v.(int64); return nil },
	})

	return &dsmeta.ModelMeta{
		Kind:       "Employee",
		ModelName:  managerName,
		Hierarchy:  []string{employeeName, managerName},
		Attributes: attributes,
		Version:    employeeVersion(employee),
		Key: dsmeta.KeyBinding{
			Get: func(m any) *record.Key { return employee(m).Key },
			Set: func(m any, key *record.Key) { employee(m).Key = key },
		},
		New: func() any { return &model.Manager{} },
	}
}

func employeeAttributes(employee func(any) *model.Employee) []dsmeta.Attribute {
	return []dsmeta.Attribute{
		{
			Name: "name",
			Type: dsmeta.String,
			Get:  func(m any) any { return employee(m).Name },
			Set:  func(m any, v any) error { employee(m).Name = v.(string); return nil },
		},
		{
			Name: "age",
			Type: dsmeta.Int,
			Get:  func(m any) any { return employee(m).Age },
			Set:  func(m any, v any) error { employee(m).Age = v.(int64); return nil },
		},
		{
			Name: "joined",
			Type: dsmeta.Time,
			Get:  func(m any) any { return employee(m).Joined },
			Set:  func(m any, v any) error { employee(m).Joined = v.(time.Time); return nil },
		},
		{
			Name: "salary",
			Type: dsmeta.Decimal,
			Get:  func(m any) any { return employee(m).Salary },
			Set:  func(m any, v any) error { employee(m).Salary = v.(record.Decimal); return nil },
		},
		{
			Name: "bio",
			Type: dsmeta.String,
			Text: true,
			Get:  func(m any) any { return employee(m).Bio },
			Set:  func(m any, v any) error { employee(m).Bio = v.(string); return nil },
		},
		{
			Name: "avatar",
			Type: dsmeta.Bytes,
			Blob: true,
			Get: func(m any) any {
				if employee(m).Avatar == nil {
					return nil
				}

				return employee(m).Avatar
			},
			Set: func(m any, v any) error { employee(m).Avatar = v.([]byte); return nil },
		},
		{
			Name: "badge",
			Type: dsmeta.Serialized,
			Get:  func(m any) any { return employee(m).Badge },
			Set: func(m any, v any) error {
				var badge model.Badge

				if err := badge.UnmarshalBinary(v.([]byte)); err != nil {
					return err
				}

				employee(m).Badge = badge

				return nil
			},
		},
	}
}

func employeeVersion(employee func(any) *model.Employee) *dsmeta.Attribute {
	return &dsmeta.Attribute{
		Name: "version",
		Type: dsmeta.Int,
		Get:  func(m any) any { return employee(m).Version },
		Set:  func(m any, v any) error { employee(m).Version = v.(int64); return nil },
	}
}

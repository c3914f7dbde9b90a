package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Student struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	RollNumber    string `json:"roll_number,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string `json:"phone,omitempty"`
	DepartmentID  string `json:"department_id,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
	Year          int    `json:"year,omitempty" validate:"gte=0,lte=10"`
	MentorID      string `json:"mentor_id,omitempty"`
}

type Staff struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Designation   string `json:"designation,omitempty"`
	Role          string `json:"role,omitempty"`
	DepartmentID  string `json:"department_id,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
}

type Institution struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Code string `json:"code,omitempty"`
	City string `json:"city,omitempty"`
}

// field aliases seen across the data API's endpoints, first match wins
var (
	aliasStudentID    = []string{"student_id", "id", "_id", "uuid"}
	aliasStaffID      = []string{"staff_id", "employee_id", "id", "_id"}
	aliasInstID       = []string{"institution_id", "id", "_id"}
	aliasStudentName  = []string{"name", "full_name", "student_name", "fullName"}
	aliasStaffName    = []string{"name", "full_name", "staff_name", "fullName"}
	aliasInstName     = []string{"name", "institution_name", "title"}
	aliasRoll         = []string{"roll_number", "rollNo", "roll_no", "register_number", "registerNumber"}
	aliasEmail        = []string{"email", "email_address", "mail"}
	aliasPhone        = []string{"phone", "phone_number", "mobile"}
	aliasDepartment   = []string{"department_id", "departmentId", "dept_id"}
	aliasInstitution  = []string{"institution_id", "institutionId", "college_id"}
	aliasYear         = []string{"year", "current_year", "year_of_study"}
	aliasMentor       = []string{"mentor_id", "mentorId"}
	aliasDesignation  = []string{"designation", "title", "position"}
	aliasRole         = []string{"role", "staff_role"}
	aliasCode         = []string{"code", "institution_code", "short_name"}
	aliasCity         = []string{"city", "location"}
	envelopeListKeys  = []string{"data", "results", "items"}
	envelopeEntityKey = map[string]string{"student": "students", "staff": "staff", "institution": "institutions"}
)

var validate = validator.New()

type record map[string]json.RawMessage

// str returns the first alias present as a string or number.
func (r record) str(aliases ...string) string {
	for _, k := range aliases {
		raw, ok := r[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
	}
	return ""
}

func (r record) integer(aliases ...string) (int, error) {
	s := r.str(aliases...)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", aliases[0], err)
	}
	return n, nil
}

func normalizeStudent(r record) (Student, error) {
	year, err := r.integer(aliasYear...)
	if err != nil {
		return Student{}, err
	}
	s := Student{
		ID:            r.str(aliasStudentID...),
		Name:          r.str(aliasStudentName...),
		RollNumber:    r.str(aliasRoll...),
		Email:         r.str(aliasEmail...),
		Phone:         r.str(aliasPhone...),
		DepartmentID:  r.str(aliasDepartment...),
		InstitutionID: r.str(aliasInstitution...),
		Year:          year,
		MentorID:      r.str(aliasMentor...),
	}
	return s, validate.Struct(s)
}

func normalizeStaff(r record) (Staff, error) {
	s := Staff{
		ID:            r.str(aliasStaffID...),
		Name:          r.str(aliasStaffName...),
		Email:         r.str(aliasEmail...),
		Designation:   r.str(aliasDesignation...),
		Role:          r.str(aliasRole...),
		DepartmentID:  r.str(aliasDepartment...),
		InstitutionID: r.str(aliasInstitution...),
	}
	return s, validate.Struct(s)
}

func normalizeInstitution(r record) (Institution, error) {
	i := Institution{
		ID:   r.str(aliasInstID...),
		Name: r.str(aliasInstName...),
		Code: r.str(aliasCode...),
		City: r.str(aliasCity...),
	}
	return i, validate.Struct(i)
}

// unwrapList accepts a bare array or an object carrying the array under data, results,
// items or the plural entity name. data may itself be such an object.
func unwrapList(entity string, raw []byte) ([]record, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	for depth := 0; depth < 3; depth++ {
		if len(raw) > 0 && raw[0] == '[' {
			var out []record
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, &ParseError{Entity: entity, Index: -1, Err: err}
			}
			return out, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &ParseError{Entity: entity, Index: -1, Err: err}
		}
		keys := append([]string{envelopeEntityKey[entity]}, envelopeListKeys...)
		var next []byte
		for _, k := range keys {
			if v, ok := obj[k]; ok && string(v) != "null" {
				next = v
				break
			}
		}
		if next == nil {
			return nil, &ParseError{Entity: entity, Index: -1, Err: errors.New("no list in response")}
		}
		raw = []byte(strings.TrimSpace(string(next)))
	}
	return nil, &ParseError{Entity: entity, Index: -1, Err: errors.New("list nested too deeply")}
}

// unwrapOne accepts a bare object or one wrapped under data or the entity name.
func unwrapOne(entity string, raw []byte) (record, error) {
	var obj record
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &ParseError{Entity: entity, Index: 0, Err: err}
	}
	for _, k := range []string{"data", entity} {
		inner, ok := obj[k]
		if !ok || len(inner) == 0 || inner[0] != '{' {
			continue
		}
		var nested record
		if err := json.Unmarshal(inner, &nested); err == nil {
			return nested, nil
		}
	}
	return obj, nil
}

func normalizeList[T any](entity string, raw []byte, fn func(record) (T, error)) ([]T, error) {
	recs, err := unwrapList(entity, raw)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for i, r := range recs {
		v, err := fn(r)
		if err != nil {
			return nil, &ParseError{Entity: entity, Index: i, Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}

package notion

import "strings"

// Property types the sync engine depends on
const (
	TypeTitle          = "title"
	TypeStatus         = "status"
	TypeDate           = "date"
	TypeLastEditedTime = "last_edited_time"
	TypeLastEditedBy   = "last_edited_by"
)

// Status option names the database must offer
const (
	OptionDone = "Done"
	OptionToDo = "To Do"
)

// SchemaDescriptor is the set of property definitions of one database
type SchemaDescriptor struct {
	DatabaseID string  `json:"database_id"`
	Fields     []Field `json:"fields"`
}

// Field is one property definition. Options is only set for status fields.
type Field struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// Role is the logical purpose a property serves for the sync engine
type Role string

const (
	RoleTitle        Role = "title"
	RoleStatus       Role = "status"
	RoleDue          Role = "due"
	RoleLastEdited   Role = "lastEdited"
	RoleLastEditedBy Role = "lastEditedBy"
)

type roleSpec struct {
	role  Role
	typ   string
	names []string // names users conventionally give the property
}

var requiredRoles = []roleSpec{
	{role: RoleTitle, typ: TypeTitle, names: []string{"name", "title", "task"}},
	{role: RoleStatus, typ: TypeStatus, names: []string{"status"}},
	{role: RoleDue, typ: TypeDate, names: []string{"due", "due date", "date"}},
	{role: RoleLastEdited, typ: TypeLastEditedTime, names: []string{"last edited time", "last edited"}},
	{role: RoleLastEditedBy, typ: TypeLastEditedBy, names: []string{"last edited by"}},
}

// Reason classifies a validation issue
type Reason string

const (
	ReasonMissingField            Reason = "MISSING_FIELD"
	ReasonWrongFieldType          Reason = "WRONG_FIELD_TYPE"
	ReasonStatusOptionsIncomplete Reason = "STATUS_OPTIONS_INCOMPLETE"
	ReasonAmbiguousField          Reason = "AMBIGUOUS_FIELD"
)

// Issue is one problem found in a schema. Property names the offending
// database property when there is one.
type Issue struct {
	Field    Role   `json:"field"`
	Reason   Reason `json:"reason"`
	Property string `json:"property,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// PropsMap is the resolved property for every role
type PropsMap struct {
	Title        Field `json:"title"`
	Status       Field `json:"status"`
	Due          Field `json:"due"`
	LastEdited   Field `json:"lastEdited"`
	LastEditedBy Field `json:"lastEditedBy"`
}

// IDs returns the property ids of every role
func (p PropsMap) IDs() []string {
	return []string{p.Title.ID, p.Status.ID, p.Due.ID, p.LastEdited.ID, p.LastEditedBy.ID}
}

func (p *PropsMap) set(role Role, f Field) {
	switch role {
	case RoleTitle:
		p.Title = f
	case RoleStatus:
		p.Status = f
	case RoleDue:
		p.Due = f
	case RoleLastEdited:
		p.LastEdited = f
	case RoleLastEditedBy:
		p.LastEditedBy = f
	}
}

// ValidationResult is Valid when Issues is empty. Props is only populated
// for a valid schema.
type ValidationResult struct {
	Issues []Issue   `json:"issues"`
	Props  *PropsMap `json:"-"`
}

// Valid reports whether the schema satisfies every role
func (r ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Validate checks that the schema has exactly one property of each required
// type and that the status property offers both required options. Properties
// are located by type; names are user-chosen and only used to explain a
// missing type.
func Validate(schema SchemaDescriptor) ValidationResult {
	byType := make(map[string][]Field)
	for _, f := range schema.Fields {
		byType[f.Type] = append(byType[f.Type], f)
	}

	var props PropsMap
	issues := []Issue{}

	for _, want := range requiredRoles {
		candidates := byType[want.typ]
		switch {
		case len(candidates) == 0:
			if f, ok := findByName(schema.Fields, want.names); ok {
				issues = append(issues, Issue{
					Field:    want.role,
					Reason:   ReasonWrongFieldType,
					Property: f.Name,
					Detail:   "expected type " + want.typ + ", got " + f.Type,
				})
				continue
			}
			issues = append(issues, Issue{Field: want.role, Reason: ReasonMissingField, Detail: "no property of type " + want.typ})
		case len(candidates) > 1:
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			issues = append(issues, Issue{
				Field:    want.role,
				Reason:   ReasonAmbiguousField,
				Property: strings.Join(names, ", "),
				Detail:   "more than one property of type " + want.typ,
			})
		default:
			props.set(want.role, candidates[0])
		}
	}

	if len(byType[TypeStatus]) == 1 {
		status := byType[TypeStatus][0]
		var missing []string
		for _, want := range []string{OptionDone, OptionToDo} {
			if !hasOption(status.Options, want) {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, Issue{
				Field:    RoleStatus,
				Reason:   ReasonStatusOptionsIncomplete,
				Property: status.Name,
				Detail:   "missing options: " + strings.Join(missing, ", "),
			})
		}
	}

	if len(issues) > 0 {
		return ValidationResult{Issues: issues}
	}
	return ValidationResult{Issues: issues, Props: &props}
}

func findByName(fields []Field, names []string) (Field, bool) {
	for _, f := range fields {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(f.Name), n) {
				return f, true
			}
		}
	}
	return Field{}, false
}

// option names match exactly, including case
func hasOption(options []string, name string) bool {
	for _, o := range options {
		if o == name {
			return true
		}
	}
	return false
}

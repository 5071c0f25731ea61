package schema

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidationError represents a schema validation error with context
type ValidationError struct {
	Resource string
	Field    string
	Message  string
	Hint     string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	if e.Resource != "" {
		b.WriteString(e.Resource)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}

// SchemaValidator validates resource schemas
type SchemaValidator struct {
	schemas map[string]*ResourceSchema
	errors  []*ValidationError
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		schemas: make(map[string]*ResourceSchema),
		errors:  make([]*ValidationError, 0),
	}
}

// ValidateStructural validates a single resource schema without cross-resource checks.
// This is used during registration to allow forward references.
func (v *SchemaValidator) ValidateStructural(schema *ResourceSchema) error {
	v.errors = make([]*ValidationError, 0)

	v.validateIdentifiers(schema)
	v.validatePrimaryKey(schema)
	v.validateFields(schema)

	return v.result()
}

// Validate validates a single resource schema against the full registry
func (v *SchemaValidator) Validate(schema *ResourceSchema, registry map[string]*ResourceSchema) error {
	v.schemas = registry
	v.errors = make([]*ValidationError, 0)

	v.validateIdentifiers(schema)
	v.validatePrimaryKey(schema)
	v.validateFields(schema)
	v.validateRelationships(schema)

	return v.result()
}

func (v *SchemaValidator) result() error {
	if len(v.errors) == 0 {
		return nil
	}
	errMsgs := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("schema validation failed with %d errors:\n%s",
		len(v.errors), strings.Join(errMsgs, "\n"))
}

func (v *SchemaValidator) addError(resource, field, message, hint string) {
	v.errors = append(v.errors, &ValidationError{
		Resource: resource,
		Field:    field,
		Message:  message,
		Hint:     hint,
	})
}

func (v *SchemaValidator) validateIdentifiers(schema *ResourceSchema) {
	if schema.Name == "" {
		v.addError("", "", "resource name is required", "")
	}
	if !identifierPattern.MatchString(schema.TableName) {
		v.addError(schema.Name, "", fmt.Sprintf("invalid table name %q", schema.TableName),
			"table names must be plain SQL identifiers")
	}
}

// validatePrimaryKey ensures exactly one primary key is declared
func (v *SchemaValidator) validatePrimaryKey(schema *ResourceSchema) {
	count := 0
	for _, field := range schema.Fields {
		if field.Primary {
			count++
			if field.Nullable {
				v.addError(schema.Name, field.Name, "primary key cannot be nullable", "")
			}
		}
	}

	switch {
	case count == 0:
		v.addError(schema.Name, "", "no primary key defined",
			"mark one field with primary: true")
	case count > 1:
		v.addError(schema.Name, "", "composite primary keys are not supported",
			"declare a single primary field")
	}
}

func (v *SchemaValidator) validateFields(schema *ResourceSchema) {
	seen := make(map[string]string, len(schema.Fields))
	for _, field := range schema.Fields {
		if !identifierPattern.MatchString(field.Column) {
			v.addError(schema.Name, field.Name, fmt.Sprintf("invalid column name %q", field.Column), "")
			continue
		}
		if other, dup := seen[field.Column]; dup {
			v.addError(schema.Name, field.Name,
				fmt.Sprintf("column %s is already mapped by %s", field.Column, other), "")
		}
		seen[field.Column] = field.Name
	}
}

// validateRelationships checks that every relationship resolves to a
// registered target and that its key columns exist on the owning side.
func (v *SchemaValidator) validateRelationships(schema *ResourceSchema) {
	for name, rel := range schema.Relationships {
		if schema.HasField(name) {
			v.addError(schema.Name, name, "relationship name collides with a field", "")
		}

		target, ok := v.schemas[rel.TargetResource]
		if !ok {
			v.addError(schema.Name, name,
				fmt.Sprintf("target resource %s is not registered", rel.TargetResource), "")
			continue
		}

		switch rel.Type {
		case RelationshipBelongsTo:
			if !schema.HasColumn(rel.ForeignKey) {
				v.addError(schema.Name, name,
					fmt.Sprintf("foreign key %s is not a column of %s", rel.ForeignKey, schema.Name),
					"add the foreign key as a field")
			}
		case RelationshipHasOne, RelationshipHasMany:
			if !target.HasColumn(rel.ForeignKey) {
				v.addError(schema.Name, name,
					fmt.Sprintf("foreign key %s is not a column of %s", rel.ForeignKey, target.Name),
					"declare the inverse belongs_to column on the target")
			}
		case RelationshipHasManyThrough:
			if rel.JoinTable == "" || rel.AssociationKey == "" {
				v.addError(schema.Name, name, "has_many_through requires join_table and association_key", "")
			}
		}

		if rel.OrderBy != "" {
			field, _ := splitOrder(rel.OrderBy)
			if !target.HasField(field) {
				v.addError(schema.Name, name,
					fmt.Sprintf("order_by field %s is not a field of %s", field, target.Name), "")
			}
		}
	}
}

// splitOrder splits "created_at DESC" into field and direction.
func splitOrder(orderBy string) (string, string) {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 {
		return "", "ASC"
	}
	dir := "ASC"
	if len(parts) > 1 && strings.EqualFold(parts[1], "desc") {
		dir = "DESC"
	}
	return parts[0], dir
}

// SplitOrder is the exported form of splitOrder used by query builders.
func SplitOrder(orderBy string) (field, direction string) {
	return splitOrder(orderBy)
}

package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "pattern": "\\S"},
		"description": {"type": "string"},
		"homepage": {"type": "string"},
		"main": {"type": "string"},
		"keywords": {"type": "array", "items": {"type": "string"}},
		"plugman": {
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"logo": {"type": "string"},
				"categories": {"type": "array", "items": {"type": "string"}},
				"permissions": {"type": "array", "items": {"type": "string"}},
				"images": {"type": "array", "items": {"type": "string"}},
				"archiveUrl": {"type": "string"},
				"minimumHostVersion": {"type": "string"}
			}
		}
	}
}`

var manifestSchema = jsonschema.MustCompileString("manifest.schema.json", manifestSchemaJSON)

// fieldOrder ranks fields so the reported failure is stable.
var fieldOrder = []string{"name", "version", "description", "main", "homepage", "keywords", VendorKey}

var quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)

// Validate checks the raw manifest against the manifest schema. It returns a
// *ValidationError naming the first failing field.
func (c *Configuration) Validate() error {
	var doc any
	if err := json.Unmarshal(c.data, &doc); err != nil {
		return &ValidationError{Message: "manifest is not a JSON object", Cause: err}
	}

	err := manifestSchema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Message: err.Error(), Cause: err}
	}
	return firstFailure(verr)
}

type schemaFailure struct {
	field   string
	keyword string
}

func firstFailure(root *jsonschema.ValidationError) *ValidationError {
	var failures []schemaFailure
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		failures = append(failures, describeFailure(e))
	}
	walk(root)

	if len(failures) == 0 {
		return &ValidationError{Message: root.Message, Cause: root}
	}
	sort.SliceStable(failures, func(i, j int) bool {
		ri, rj := fieldRank(failures[i].field), fieldRank(failures[j].field)
		if ri != rj {
			return ri < rj
		}
		return failures[i].field < failures[j].field
	})

	f := failures[0]
	return &ValidationError{Field: f.field, Message: failureMessage(f), Cause: root}
}

func describeFailure(e *jsonschema.ValidationError) schemaFailure {
	keyword := path.Base(e.KeywordLocation)
	field := strings.ReplaceAll(strings.TrimPrefix(e.InstanceLocation, "/"), "/", ".")
	if keyword == "required" {
		if m := quotedName.FindStringSubmatch(e.Message); m != nil {
			if field == "" {
				field = m[1]
			} else {
				field = field + "." + m[1]
			}
		}
	}
	return schemaFailure{field: field, keyword: keyword}
}

func fieldRank(field string) int {
	top := field
	if i := strings.Index(top, "."); i >= 0 {
		top = top[:i]
	}
	for i, f := range fieldOrder {
		if f == top {
			return i
		}
	}
	return len(fieldOrder)
}

func failureMessage(f schemaFailure) string {
	if f.field == "" {
		f.field = "manifest"
	}
	switch f.keyword {
	case "required", "minLength", "pattern":
		return fmt.Sprintf("%s is a required field", f.field)
	case "type":
		return fmt.Sprintf("%s has an invalid type", f.field)
	default:
		return fmt.Sprintf("%s is invalid", f.field)
	}
}

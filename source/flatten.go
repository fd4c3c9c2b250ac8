package source

import (
	"github.com/goliatone/go-identity-sync/core"
)

var nameFields = map[string]string{
	"given":     "first_name",
	"family":    "last_name",
	"middle":    "middle_name",
	"formatted": "display_name",
}

// Flatten lifts a cloud IdP record into a single level. Known name parts get
// canonical keys, profile scalars are promoted without overwriting, other
// objects become parent_child keys and lists are kept as they are.
func Flatten(record core.SourceRecord) core.SourceRecord {
	out := core.SourceRecord{}
	for key, value := range record {
		if _, nested := value.(map[string]any); !nested {
			out[key] = value
		}
	}

	if name, ok := record["name"].(map[string]any); ok {
		for part, value := range name {
			if target, known := nameFields[part]; known {
				setAbsent(out, target, value)
				continue
			}
			flattenInto(out, "name_"+part, value)
		}
	}

	if profile, ok := record["profile"].(map[string]any); ok {
		for key, value := range profile {
			switch value.(type) {
			case map[string]any:
				flattenInto(out, "profile_"+key, value)
			default:
				setAbsent(out, key, value)
			}
		}
	}

	for key, value := range record {
		if key == "name" || key == "profile" {
			continue
		}
		if _, nested := value.(map[string]any); nested {
			flattenInto(out, key, value)
		}
	}
	return out
}

func flattenInto(out core.SourceRecord, prefix string, value any) {
	nested, ok := value.(map[string]any)
	if !ok {
		setAbsent(out, prefix, value)
		return
	}
	for key, child := range nested {
		flattenInto(out, prefix+"_"+key, child)
	}
}

func setAbsent(out core.SourceRecord, key string, value any) {
	if _, exists := out[key]; exists {
		return
	}
	out[key] = value
}

package config

import (
	"reflect"
	"strings"
)

// normalizeAliasConfigMap maps alias YAML keys (older names and keys without
// underscores) to the canonical snake_case keys defined by mapstructure tags.
// It mutates and returns the provided map.
func normalizeAliasConfigMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	applyAliasPathMappings(data)
	return normalizeMapForStruct(data, reflect.TypeOf(Config{}))
}

// applyAliasPathMappings rewrites section and key names from earlier config
// layouts: a top-level "privacy" section and the k_min/k_max shorthand.
func applyAliasPathMappings(data map[string]interface{}) {
	if privacy, ok := data["privacy"].(map[string]interface{}); ok {
		protection := ensureMap(data, "protection")
		for key, val := range privacy {
			if _, exists := protection[key]; !exists {
				protection[key] = val
			}
		}
		delete(data, "privacy")
	}

	if protection, ok := data["protection"].(map[string]interface{}); ok {
		for alias, canonical := range protectionKeyAliases {
			if val, ok := protection[alias]; ok {
				if _, exists := protection[canonical]; !exists {
					protection[canonical] = val
				}
				delete(protection, alias)
			}
		}
		for _, key := range []string{"geo_bucket_level", "generalization_level"} {
			if lvl, ok := protection[key].(string); ok {
				protection[key] = normalizeGeoLevelName(lvl)
			}
		}
	}

	if pipeline, ok := data["pipeline"].(map[string]interface{}); ok {
		if val, ok := pipeline["iterations"]; ok {
			if _, exists := pipeline["max_iterations"]; !exists {
				pipeline["max_iterations"] = val
			}
			delete(pipeline, "iterations")
		}
	}
}

var protectionKeyAliases = map[string]string{
	"k_min":             "min_group_size",
	"k_max":             "max_group_size",
	"noise_epsilon":     "epsilon",
	"temporal_days":     "temporal_sensitivity_days",
	"geo_level":         "generalization_level",
	"risk_target":       "target_risk",
	"outcome_flip_prob": "flip_probability",
}

func ensureMap(data map[string]interface{}, key string) map[string]interface{} {
	if existing, ok := data[key].(map[string]interface{}); ok {
		return existing
	}
	next := make(map[string]interface{})
	data[key] = next
	return next
}

func normalizeMapForStruct(data map[string]interface{}, t reflect.Type) map[string]interface{} {
	if data == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return data
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := canonicalTagName(field)
		if name == "" || name == "-" {
			continue
		}

		legacy := strings.ReplaceAll(name, "_", "")
		if legacy != name {
			if val, ok := data[legacy]; ok {
				if _, exists := data[name]; !exists {
					data[name] = val
				}
				delete(data, legacy)
			}
		}

		if val, ok := data[name]; ok {
			data[name] = normalizeValueForType(val, field.Type)
		}
	}

	return data
}

func normalizeValueForType(value interface{}, t reflect.Type) interface{} {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if m, ok := value.(map[string]interface{}); ok {
			return normalizeMapForStruct(m, t)
		}
	case reflect.Slice:
		// Only normalize slices of structs/pointers to structs.
		if t.Elem().Kind() == reflect.Struct || (t.Elem().Kind() == reflect.Pointer && t.Elem().Elem().Kind() == reflect.Struct) {
			if list, ok := value.([]interface{}); ok {
				out := make([]interface{}, 0, len(list))
				for _, item := range list {
					out = append(out, normalizeValueForType(item, t.Elem()))
				}
				return out
			}
		}
	}

	return value
}

func canonicalTagName(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	if tag := field.Tag.Get("yaml"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return strings.ToLower(field.Name)
}

func normalizeGeoLevelName(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return value
	}
	if mapped, ok := geoLevelAliases[normalized]; ok {
		return mapped
	}
	return normalized
}

var geoLevelAliases = map[string]string{
	"street":   "address",
	"town":     "city",
	"fips":     "county",
	"province": "state",
	"region":   "state",
	"nation":   "country",
	"national": "country",
}

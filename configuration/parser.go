package configuration

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

// Version identifies a configuration document's schema revision, e.g.
// "0.1". A Parser only accepts documents whose Version is registered via
// VersionedParseInfo.
type Version string

// MajorMinorVersion builds a Version of the form "Major.Minor".
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

// VersionedParseInfo describes how to parse one schema version's YAML
// document into the current Configuration.
type VersionedParseInfo struct {
	// Version is the schema version this entry applies to.
	Version Version
	// ParseAs is the struct type the raw YAML unmarshals into.
	ParseAs reflect.Type
	// ConversionFunc converts a *ParseAs value (after env overrides have
	// been applied) into the current Configuration.
	ConversionFunc func(interface{}) (interface{}, error)
}

// Parser reads a versioned YAML document and applies PREFIX_FOO_BAR
// environment overrides, where PREFIX_FOO_BAR replaces the value of a
// parsed struct's Foo.Bar field.
type Parser struct {
	prefix  string
	mapping map[Version]VersionedParseInfo
	env     map[string]string
}

// NewParser builds a Parser scoped to prefix, recognizing the schema
// versions described by parseInfos.
func NewParser(prefix string, parseInfos []VersionedParseInfo) *Parser {
	p := Parser{prefix: prefix, mapping: make(map[Version]VersionedParseInfo), env: make(map[string]string)}
	for _, info := range parseInfos {
		p.mapping[info.Version] = info
	}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		p.env[parts[0]] = parts[1]
	}
	return &p
}

// Parse unmarshals in according to its declared Version, applies
// environment overrides, converts the result to the current schema via
// that version's ConversionFunc, and stores it into v.
func (p *Parser) Parse(in []byte, v interface{}) error {
	var versioned struct {
		Version Version
	}
	if err := yaml.Unmarshal(in, &versioned); err != nil {
		return err
	}

	info, ok := p.mapping[versioned.Version]
	if !ok {
		return fmt.Errorf("unsupported configuration version: %q", versioned.Version)
	}

	parsed := reflect.New(info.ParseAs)
	if err := yaml.Unmarshal(in, parsed.Interface()); err != nil {
		return err
	}
	if err := p.overwriteFields(parsed, p.prefix); err != nil {
		return err
	}

	converted, err := info.ConversionFunc(parsed.Interface())
	if err != nil {
		return err
	}
	reflect.ValueOf(v).Elem().Set(reflect.Indirect(reflect.ValueOf(converted)))
	return nil
}

// overwriteFields walks a parsed struct field by field, replacing any
// field whose PREFIX_FIELD env var is set and recursing into nested
// structs under PREFIX_FIELD. uploadfiles' Configuration nests struct
// fields only (Log, Storage, Ingest); unlike the registry configuration
// this is adapted from, none of its fields are maps keyed by driver or
// endpoint name, so overwriteFields never needs to recurse through a map
// of structs — the one map field it has, Log.Fields, is leaf data
// handled by overwriteMap instead.
func (p *Parser) overwriteFields(v reflect.Value, prefix string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
			if e, ok := p.env[fieldPrefix]; ok {
				fieldVal := reflect.New(sf.Type)
				if err := yaml.Unmarshal([]byte(e), fieldVal.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(fieldVal))
			}
			if err := p.overwriteFields(v.Field(i), fieldPrefix); err != nil {
				return err
			}
		}
	case reflect.Map:
		return p.overwriteMap(v, prefix)
	}
	return nil
}

// overwriteMap overwrites entries of a map[string]T leaf field (e.g.
// Log.Fields) from any PREFIX_KEY env var, creating the map and/or the
// entry if absent.
func (p *Parser) overwriteMap(m reflect.Value, prefix string) error {
	envMapRegexp, err := regexp.Compile(fmt.Sprintf("^%s_([A-Z0-9]+)$", strings.ToUpper(prefix)))
	if err != nil {
		return err
	}
	for key, val := range p.env {
		submatches := envMapRegexp.FindStringSubmatch(key)
		if submatches == nil {
			continue
		}
		mapValue := reflect.New(m.Type().Elem())
		if err := yaml.Unmarshal([]byte(val), mapValue.Interface()); err != nil {
			return err
		}
		if m.IsNil() {
			m.Set(reflect.MakeMap(m.Type()))
		}
		m.SetMapIndex(reflect.ValueOf(strings.ToLower(submatches[1])), reflect.Indirect(mapValue))
	}
	return nil
}

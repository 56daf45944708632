// Package common holds the configuration helpers shared by the fogproxy
// commands: .env import and struct population from the environment.
package common

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotStructPointer is returned by LoadEnvToStruct for any other input.
var ErrNotStructPointer = errors.New("input must be a pointer to a struct")

var durationType = reflect.TypeOf(time.Duration(0))

// ${VAR:-default}
var defaultPattern = regexp.MustCompile(`\$\{([^:}]+):-([^}]*)\}`)

// LoadEnvFromReader parses KEY=VALUE lines from reader and sets them in the
// process environment. Blank lines, comment lines and lines without '=' are
// skipped. A '#' outside quotes starts a trailing comment. Values may be
// single or double quoted and are expanded with ${VAR:-default} first and
// $VAR / ${VAR} afterwards. Single-quoted values are taken literally.
func LoadEnvFromReader(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok := parseDotenvLine(scanner.Text())
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("line %d: failed to set %s: %w", lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env input: %w", err)
	}
	return nil
}

func parseDotenvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	raw := strings.TrimSpace(line[eq+1:])

	if len(raw) > 0 && (raw[0] == '"' || raw[0] == '\'') {
		quote := raw[0]
		if end := strings.IndexByte(raw[1:], quote); end >= 0 {
			inner := raw[1 : end+1]
			if quote == '\'' {
				return key, inner, true
			}
			return key, expand(inner), true
		}
	}
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}
	return key, expand(raw), true
}

func expand(value string) string {
	value = defaultPattern.ReplaceAllStringFunc(value, func(match string) string {
		sub := defaultPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		return sub[2]
	})
	return os.ExpandEnv(value)
}

// ImportDotenv loads .env from the working directory when it exists.
func ImportDotenv() error {
	pwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("error getting working directory: %w", err)
	}
	return ImportEnvFile(filepath.Join(pwd, ".env"))
}

// ImportEnvFile loads path into the environment. A missing file is not an
// error.
func ImportEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error opening env file %s: %w", path, err)
	}
	defer file.Close()
	return LoadEnvFromReader(file)
}

// LoadEnvToStruct populates the fields of the struct ptr points to from the
// environment, driven by `env:"NAME[,default=value][,required]"` tags.
// Supported field types are strings, bools, signed and unsigned integers,
// floats and time.Duration. Nested structs without a tag are walked.
func LoadEnvToStruct(ptr interface{}) error {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotStructPointer
	}
	return loadStruct(v.Elem())
}

func loadStruct(elem reflect.Value) error {
	elemType := elem.Type()
	for i := 0; i < elem.NumField(); i++ {
		field := elem.Field(i)
		fieldType := elemType.Field(i)
		if !field.CanSet() {
			continue
		}

		tag, hasTag := fieldType.Tag.Lookup("env")
		if !hasTag {
			if field.Kind() == reflect.Struct && field.Type() != durationType {
				if err := loadStruct(field); err != nil {
					return err
				}
			}
			continue
		}

		name, defaultValue, hasDefault, required := parseEnvTag(tag)
		value, found := os.LookupEnv(name)
		if !found {
			switch {
			case required:
				return fmt.Errorf("required environment variable %s not set", name)
			case hasDefault:
				value = defaultValue
			default:
				continue
			}
		}

		if err := setField(field, value); err != nil {
			return fmt.Errorf("field %s from %s=%q: %w", fieldType.Name, name, value, err)
		}
	}
	return nil
}

func parseEnvTag(tag string) (name, defaultValue string, hasDefault, required bool) {
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, part := range parts[1:] {
		switch {
		case strings.HasPrefix(part, "default="):
			defaultValue = strings.TrimPrefix(part, "default=")
			hasDefault = true
		case part == "required":
			required = true
		}
	}
	return name, defaultValue, hasDefault, required
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 0, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 0, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported type %s", field.Kind())
	}
	return nil
}

// Package config loads service configuration from struct tag defaults, an
// optional YAML/JSON file and environment variables, in that order of
// increasing priority:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file  (medium priority)
//	Environment variables  (highest priority)
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails validation if the field remains zero
//
// Fields need `yaml` or `json` tags to be populated from a file.
//
// # Secret Files
//
// For every `env:"NAME"` field the loader also honours NAME_FILE. When
// NAME is unset and NAME_FILE points to a readable file, the trimmed file
// content is used. This is how mounted Kubernetes secrets and Vault agent
// sidecar files (VAULT_TOKEN_FILE, WEBHOOK_SHARED_SECRET_FILE) reach the
// trust service without passing through the process environment.
//
// # Durations
//
// time.Duration fields accept Go duration strings ("90s", "5m") and bare
// integers, which are read as seconds ("60" is one minute). The bare form
// keeps variables such as JWT_LEEWAY_SECS compatible with existing
// deployments.
//
// # Usage
//
//	type TrustConfig struct {
//	    JWKSURL string        `env:"KEYCLOAK_JWKS" required:"true" yaml:"jwks_url"`
//	    Leeway  time.Duration `env:"JWT_LEEWAY_SECS" envDefault:"60" yaml:"leeway"`
//	}
//
//	cfg := config.MustLoad[TrustConfig](config.New().WithFile("trustd.yaml"))
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// durationType distinguishes time.Duration from plain int64 fields.
var durationType = reflect.TypeOf(time.Duration(0))

// fileSuffix is appended to an env var name to locate its secret file.
const fileSuffix = "_FILE"

// maxSecretFileSize bounds how much of a *_FILE target is read.
const maxSecretFileSize = 64 << 10

// Loader builds and executes configuration loading. Use [New] and the
// With* methods, then call [Loader.Load].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// New creates a [Loader] that reads environment variables only.
func New() *Loader {
	return &Loader{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// WithEnvPrefix sets a prefix prepended (with "_") to every env var name.
// The prefix is uppercased; an empty prefix disables prefixing.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path of a .yaml, .yml or .json file. A missing file is
// not an error. Paths containing ".." are rejected at load time.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment lookup function. Tests use it to load
// from a map instead of the process environment.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, then
// validates required fields and calls Validate if cfg implements
// [Validator].
//
// Loading failures return [sserr.CodeInternalConfiguration]; validation
// failures return [sserr.CodeValidationRequired] or [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := l.applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for func main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := l.readFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyDefaults sets zero-valued fields from their envDefault tags,
// recursing into nested structs.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if isNestedStruct(field) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag, ok := sf.Tag.Lookup("envDefault")
		if !ok || tag == "" || !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// applyEnv sets fields from environment variables. A nested struct's env
// tag becomes a prefix (joined with "_") for its children.
func (l *Loader) applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if isNestedStruct(field) {
			if err := l.applyEnv(field, joinEnv(prefix, envTag)); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := joinEnv(prefix, envTag)
		val, ok, err := l.resolve(envKey)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}

	return nil
}

// resolve returns the value for key, falling back to the content of the
// file named by key_FILE. The direct variable wins when both are set.
func (l *Loader) resolve(key string) (string, bool, error) {
	if val, ok := l.lookupEnv(key); ok {
		return val, true, nil
	}

	path, ok := l.lookupEnv(key + fileSuffix)
	if !ok || path == "" {
		return "", false, nil
	}

	data, err := l.readFile(path)
	if err != nil {
		return "", false, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read %s%s", key, fileSuffix)
	}
	if len(data) > maxSecretFileSize {
		return "", false, sserr.Newf(sserr.CodeInternalConfiguration,
			"config: %s%s exceeds %d bytes", key, fileSuffix, maxSecretFileSize)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func joinEnv(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

func isNestedStruct(field reflect.Value) bool {
	return field.Kind() == reflect.Struct && field.Type() != durationType
}

// setField parses value into field. Supported kinds: string (including
// named string types such as Secret), bool, signed integers, float64,
// time.Duration and []string (comma-separated, trimmed, empties dropped).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := parseDuration(value)
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
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := splitList(value)
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}

// parseDuration accepts Go duration syntax or a bare integer of seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration %q: %w", value, err)
	}
	return d, nil
}

func splitList(value string) []string {
	raw := strings.Split(value, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package conf

/*
   conf wraps viper for the servicing applications.

   A local.env file is read when one is found in the known locations. Keys the
   file does not track fall back to the process environment, and deployed
   environments (no file) read the environment only.

   Assumptions:
   1. The configuration file is an env file
   2. The configuration file stays immutable while the application runs
      (tests are the exception, see SetEnv)
*/

import (
	"os"
	"reflect"
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var envVars viper.Viper

const (
	configgood    uint8 = 0
	configbad     uint8 = 1
	noconfigfound uint8 = 2
)

var state uint8 = configgood

func setup(dir string) *viper.Viper {
	var v = viper.New()
	v.SetConfigName("local")
	v.SetConfigType("env")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		state = configbad
	}

	return v
}

func init() {
	locations := []string{
		os.Getenv("SERVICING_CONF_DIR"),
		"/go/src/github.com/ledgerly/servicing-app/shared_files/decrypted",
		"/etc/servicing",
	}

	if success, loc := findEnv(locations); success {
		envVars = *setup(loc)
	} else {
		state = noconfigfound
	}
}

// findEnv returns the first location holding a local.env file.
func findEnv(location []string) (bool, string) {
	if len(location) == 0 {
		return false, ""
	}

	if location[0] != "" {
		if _, err := os.Stat(location[0] + "/local.env"); err == nil {
			return true, location[0]
		}
	}

	return findEnv(location[1:])
}

// GetEnv retrieves the value stored in conf, falling back to the environment.
// An empty string is returned when the key is unknown.
func GetEnv(key string) string {
	if state == configgood {
		value := envVars.GetString(key)
		if value == "" {
			var found bool
			if value, found = os.LookupEnv(key); found {
				// cache it so UnsetEnv has to clear both places
				envVars.Set(key, value)
			}
		}
		return value
	}

	return os.Getenv(key)
}

// LookupEnv augments os.LookupEnv to look in conf first.
func LookupEnv(key string) (string, bool) {
	if state == configgood {
		if value := envVars.GetString(key); value != "" {
			return value, true
		}
		if v, exist := os.LookupEnv(key); exist {
			envVars.Set(key, v)
			return v, exist
		}
		return "", false
	}

	return os.LookupEnv(key)
}

// SetEnv adds a key into conf. The *testing.T parameter makes callers
// knowingly use it in tests or in this package.
func SetEnv(protect *testing.T, key string, value string) error {
	if state == configgood {
		envVars.Set(key, value)
		return nil
	}
	return os.Setenv(key, value)
}

// UnsetEnv clears a key from conf and the environment.
func UnsetEnv(protect *testing.T, key string) error {
	if state == configgood {
		envVars.Set(key, "")
	}
	return os.Unsetenv(key)
}

// Checkout populates target, a pointer to a struct, from conf. Fields are
// matched with the `conf` tag and fall back to `conf_default` when the key
// holds no value. Untagged struct fields are filled recursively.
func Checkout(target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.Errorf("checkout target must be a pointer to a struct, got %T", target)
	}

	values := collect(rv.Elem().Type())

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "conf",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create conf decoder")
	}

	if err := decoder.Decode(values); err != nil {
		return errors.Wrapf(err, "failed to checkout conf into %T", target)
	}
	return nil
}

func collect(t reflect.Type) map[string]interface{} {
	values := make(map[string]interface{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		key, tagged := field.Tag.Lookup("conf")
		if !tagged {
			if field.Type.Kind() == reflect.Struct {
				values[field.Name] = collect(field.Type)
			}
			continue
		}

		if v, ok := LookupEnv(key); ok && v != "" {
			values[key] = v
		} else if def, ok := field.Tag.Lookup("conf_default"); ok {
			values[key] = def
		}
	}
	return values
}

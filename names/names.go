// Package names binds string constants qualified by inject.Named, read from
// maps, .env files or the process environment.
package names

import (
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/centraunit/inject"
)

// Bind binds every entry of props as a string qualified by
// inject.Named(key). Keys are bound in sorted order.
func Bind(b *inject.Binder, props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		inject.Bind[string](b, inject.Named(k)).ToInstance(props[k])
	}
}

// LoadEnv reads the given .env files (".env" when none are given). Later
// files override earlier ones. The process environment is not modified.
func LoadEnv(files ...string) (map[string]string, error) {
	return godotenv.Read(files...)
}

// EnvModule binds the variables of the given .env files. A file that cannot
// be read is reported as a configuration error.
func EnvModule(files ...string) inject.Module {
	return inject.ModuleFunc(func(b *inject.Binder) {
		props, err := LoadEnv(files...)
		if err != nil {
			b.AddError(err)
			return
		}
		Bind(b, props)
	})
}

// EnvironModule binds the process environment variables starting with
// prefix, named without the prefix.
func EnvironModule(prefix string) inject.Module {
	return inject.ModuleFunc(func(b *inject.Binder) {
		props := make(map[string]string)
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(k, prefix) || k == prefix {
				continue
			}
			props[strings.TrimPrefix(k, prefix)] = v
		}
		Bind(b, props)
	})
}

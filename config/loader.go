package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// BACKTEST_RISK_MAX_DRAWDOWN_PCT=0.1 or BACKTEST_DATA_SYMBOL=BANKNIFTY.
const EnvPrefix = "BACKTEST"

// Load merges, in increasing priority: Defaults, the YAML file at path (if
// path is non-empty), and BACKTEST_* environment variables. Variables from
// envFiles (".env" when none are given) are loaded into the process
// environment first; missing files are ignored, malformed ones are not.
//
// The returned Config has not been validated.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Defaults(), fmt.Errorf("config env %s: %w", f, err)
		}
	}

	cfg := Defaults()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, "", reflect.ValueOf(cfg))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config decode: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// bindDefaults registers every leaf of val as a viper default. AutomaticEnv
// only resolves keys viper already knows about, so this is what makes every
// field overridable from the environment. Slices and maps are file-only.
func bindDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := val.Field(i)
		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != durationType:
			bindDefaults(v, key, fv)
		case f.Type.Kind() == reflect.Slice, f.Type.Kind() == reflect.Map:
		default:
			v.SetDefault(key, fv.Interface())
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

const (
	envPrefix = "TRAINER_"
	// EnvConfigFile points at an optional YAML file.
	EnvConfigFile = "TRAINER_CONFIG"
	// EnvModelDir is set by Vertex AI custom training to the artifact location.
	EnvModelDir = "AIP_MODEL_DIR"
)

// Load builds a Config by layering defaults, an optional YAML file, env
// vars and AIP_MODEL_DIR, then validates it. A .env file in the working
// directory is loaded first if present; it never overrides variables that
// are already set.
//
// Env keys use "__" for nesting: TRAINER_STORE__BACKEND -> store.backend,
// TRAINER_MODEL__N_ESTIMATORS -> model.n_estimators. TRAINER_FEATURES is a
// comma-separated list.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == "features" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Wrap(err, "load env")
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	// mapstructure はデフォルトのスライスに要素単位で上書きするため、明示的に置き換える
	if k.Exists("features") {
		cfg.Features = k.Strings("features")
	}

	if dir := os.Getenv(EnvModelDir); dir != "" {
		cfg.OutputDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return featurestore.ValidateIdentifier(fl.FieldName(), fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("featureref", func(fl validator.FieldLevel) bool {
		_, err := featurestore.ParseFeatureRef(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and the backend-specific settings.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewValidationError(fe.Namespace(), fmt.Sprintf("failed %q constraint", fe.Tag()), fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.NewValidationError("store.sqlite.path", "required for sqlite backend", "")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.NewValidationError("store.postgres.dsn", "required for postgres backend", "")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return errors.NewValidationError("store.mongo", "uri and database are required for mongo backend", c.Store.Mongo.URI)
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.NewValidationError("store.redis.addr", "required for redis backend", "")
		}
	}

	// 短縮名の重複もここで弾く
	if _, err := featurestore.ParseFeatureRefs(c.Features); err != nil {
		return err
	}
	return nil
}

// TargetIsFeature reports whether the target column is also a model input.
func (c *Config) TargetIsFeature() bool {
	for _, f := range c.Features {
		if f == c.Target {
			return true
		}
	}
	return false
}

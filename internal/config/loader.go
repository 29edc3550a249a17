package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ssmPrefix     = "ssm://"
	secretsPrefix = "aws-secrets://"
)

// SecretResolver fetches secret material referenced from config values.
// SSMLoader and AWSSecretsLoader satisfy the respective fields.
type SecretResolver struct {
	SSM     interface{ GetParameter(name string, decrypt bool) (string, error) }
	Secrets interface{ GetSecret(name string) (string, error) }
}

// Load reads YAML config from path, expands $VAR references, applies
// env-tag overrides and defaults. Secret references (ssm://, aws-secrets://)
// are left in place; call ResolveSecrets afterwards when AWS is available.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	overrideWithEnv(reflect.ValueOf(cfg).Elem())
	applyDefaults(cfg)
	return cfg, nil
}

// OTPLoginDisabled reports the kill switch that turns every OTP route
// into a 403 without touching stores or counters.
func OTPLoginDisabled() bool {
	v, err := strconv.ParseBool(os.Getenv("OTP_LOGIN_DISABLED"))
	return err == nil && v
}

// ResolveSecrets walks cfg and replaces ssm:// and aws-secrets:// string
// values through the resolver. A reference that cannot be resolved fails
// loudly rather than booting with a placeholder credential.
func (r SecretResolver) ResolveSecrets(cfg *Config) error {
	return resolveValue(reflect.ValueOf(cfg).Elem(), r)
}

func resolveValue(v reflect.Value, r SecretResolver) error {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		switch {
		case strings.HasPrefix(s, ssmPrefix):
			if r.SSM == nil {
				return fmt.Errorf("config references %q but no SSM resolver is configured", s)
			}
			val, err := r.SSM.GetParameter(strings.TrimPrefix(s, ssmPrefix), true)
			if err != nil {
				return err
			}
			v.SetString(val)
		case strings.HasPrefix(s, secretsPrefix):
			if r.Secrets == nil {
				return fmt.Errorf("config references %q but no secrets resolver is configured", s)
			}
			val, err := r.Secrets.GetSecret(strings.TrimPrefix(s, secretsPrefix))
			if err != nil {
				return err
			}
			v.SetString(val)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanSet() {
				continue
			}
			if err := resolveValue(v.Field(i), r); err != nil {
				return err
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := resolveValue(v.Index(i), r); err != nil {
				return err
			}
		}
	}
	return nil
}

// overrideWithEnv applies `env:"NAME"` tags recursively. Unparseable
// values are ignored so a stray env var cannot break boot.
func overrideWithEnv(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			overrideWithEnv(fv)
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envValue, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		switch fv.Kind() {
		case reflect.String:
			fv.SetString(envValue)
		case reflect.Int, reflect.Int64:
			if field.Type == reflect.TypeOf(time.Duration(0)) {
				if d, err := time.ParseDuration(envValue); err == nil {
					fv.SetInt(int64(d))
				}
			} else if n, err := strconv.Atoi(envValue); err == nil {
				fv.SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(envValue); err == nil {
				fv.SetBool(b)
			}
		case reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				fv.Set(reflect.ValueOf(strings.Split(envValue, ",")))
			}
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags, then the rules that span sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Blob.Type == "s3" && cfg.Blob.S3.Bucket == "" {
		return errors.New("blob.s3.bucket is required when blob.type is s3 (or set BUCKETNAME)")
	}
	if cfg.Blob.Type == "fs" && cfg.Blob.FS.Root == "" {
		return errors.New("blob.fs.root is required when blob.type is fs")
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.API.IsEnabled() && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port and api.port must differ (both %d)", cfg.API.Port)
	}
	if cfg.API.IsEnabled() && cfg.API.Port == cfg.DIMSE.Port {
		return fmt.Errorf("api.port and dimse.port must differ (both %d)", cfg.DIMSE.Port)
	}
	return nil
}

// describe renders a field error with its config path, e.g.
// "storage.out_of_resource_mb: must be lower than throttle_mb".
func describe(fe validator.FieldError) string {
	path := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return path + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s] (oneof)", path, fe.Param())
	case "ltfield":
		return fmt.Sprintf("%s: must be lower than %s", path, toSnake(fe.Param()))
	case "min", "gte":
		return fmt.Sprintf("%s: must be at least %s (%s)", path, fe.Param(), fe.Tag())
	case "max", "lte":
		return fmt.Sprintf("%s: must be at most %s (%s)", path, fe.Param(), fe.Tag())
	default:
		return fmt.Sprintf("%s: failed %s=%s", path, fe.Tag(), fe.Param())
	}
}

// fieldPath drops the root type from a namespace such as
// "Config.storage.out_of_resource_mb".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// toSnake converts a Go field name such as ThrottleMB to throttle_mb.
func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

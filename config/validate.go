package config

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
)

/*
	Collects every problem found while resolving, so they can all be
	reported at once rather than one per run.
*/
type ValidationErrors struct {
	errors []error
}

func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.errors = append(v.errors, err)
	}
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range v.errors {
		sb.WriteString(" - ")
		sb.WriteString(err.Error())
		sb.WriteRune('\n')
	}
	return sb.String()
}

type validator struct {
	ctx  context.Context
	errs ValidationErrors
}

func (v *validator) ok(path string, value interface{}) {
	zerolog.Ctx(v.ctx).Debug().
		Str("config", path).
		Interface("value", value).
		Msg("config set")
}

func (v *validator) fail(path string, value interface{}, err error) {
	zerolog.Ctx(v.ctx).Error().
		Str("config", path).
		Interface("value", value).
		Err(err).
		Msg("invalid config value")
	v.errs.Add(fmt.Errorf("%s: %w", path, err))
}

/*
	Parse an absolute path, recording a problem if it isn't one.

	Control characters are refused outright: these paths end up in shell
	scripts and line-oriented config files.
*/
func (v *validator) absolutePath(path string, value string) (fs.AbsolutePath, bool) {
	if strings.IndexFunc(value, isControl) >= 0 {
		v.fail(path, value, fmt.Errorf("must not contain control characters"))
		return fs.AbsolutePath{}, false
	}
	p, err := fs.ParseAbsolutePath(value)
	if err != nil {
		v.fail(path, value, err)
		return fs.AbsolutePath{}, false
	}
	v.ok(path, p.String())
	return p, true
}

func (v *validator) method(path string, value string) (persistgen.Method, bool) {
	m := persistgen.Method(value)
	if !m.Valid() {
		v.fail(path, value, fmt.Errorf("must be one of %v", persistgen.Methods))
		return "", false
	}
	v.ok(path, m)
	return m, true
}

func (v *validator) nonEmpty(path string, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.fail(path, value, fmt.Errorf("is required"))
		return false
	}
	v.ok(path, value)
	return true
}

func isControl(r rune) bool {
	return unicode.IsControl(r)
}

// Copyright 2026 CICD AI Toolkit. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// integer: a string holding a 32-bit signed integer, as the report endpoint expects
	_ = v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		_, err := ParseMicroServiceID(fl.Field().String())
		return err == nil
	})
	return v
}

// ParseMicroServiceID converts the configured identifier to its wire value.
func ParseMicroServiceID(s string) (int, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ValidationKind is the status of a field check.
type ValidationKind string

const (
	KindOK    ValidationKind = "ok"
	KindError ValidationKind = "error"
)

// FormValidation is the human readable result of a single field check,
// shown next to the field in an admin form.
type FormValidation struct {
	Kind    ValidationKind `json:"kind"`
	Message string         `json:"message,omitempty"`
}

// OK returns a passing FormValidation.
func OK() FormValidation {
	return FormValidation{Kind: KindOK}
}

// Fail returns a failing FormValidation.
func Fail(format string, a ...any) FormValidation {
	return FormValidation{Kind: KindError, Message: fmt.Sprintf(format, a...)}
}

// IsOK reports whether the check passed.
func (f FormValidation) IsOK() bool {
	return f.Kind == KindOK
}

func (f FormValidation) String() string {
	if f.IsOK() {
		return "ok"
	}
	return "error: " + f.Message
}

// CheckAPIURL validates the reporting endpoint.
func CheckAPIURL(value string) FormValidation {
	if value == "" {
		return Fail("URL must not be empty")
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return Fail("URL must start with http:// or https://")
	}
	u, err := url.Parse(value)
	if err != nil {
		return Fail("%s", err.Error())
	}
	if u.Host == "" {
		return Fail("URL has no host: %s", value)
	}
	return OK()
}

// CheckMicroServiceID validates a per-job microServiceId.
func CheckMicroServiceID(value string) FormValidation {
	if value == "" {
		return Fail("microServiceId must not be empty")
	}
	if err := validate.Var(value, "integer"); err != nil {
		return Fail("microServiceId must be an integer")
	}
	return OK()
}

// CheckSignature validates a per-job signature.
func CheckSignature(value string) FormValidation {
	if value == "" {
		return Fail("signature must not be empty")
	}
	return OK()
}

// Field names accepted by CheckField.
const (
	FieldAPIURL         = "apiUrl"
	FieldMicroServiceID = "microServiceId"
	FieldSignature      = "signature"
)

// CheckField dispatches to the validator of the named field.
func CheckField(field, value string) (FormValidation, error) {
	switch field {
	case FieldAPIURL:
		return CheckAPIURL(value), nil
	case FieldMicroServiceID:
		return CheckMicroServiceID(value), nil
	case FieldSignature:
		return CheckSignature(value), nil
	default:
		return FormValidation{}, &ValidationError{Field: field, Message: "unknown field"}
	}
}

// Validate checks the notifier pair with the same rules as the admin form.
func (n NotifierConfig) Validate() error {
	if r := CheckMicroServiceID(n.MicroServiceID); !r.IsOK() {
		return &ValidationError{Field: FieldMicroServiceID, Value: n.MicroServiceID, Message: r.Message}
	}
	if r := CheckSignature(n.Signature); !r.IsOK() {
		return &ValidationError{Field: FieldSignature, Message: r.Message}
	}
	return nil
}

// ValidateSettings runs struct-level checks and, when an endpoint is set,
// the endpoint check. An empty endpoint is allowed at load time: deliveries
// are skipped until an administrator sets one.
func ValidateSettings(s Settings) error {
	if err := structErrors(validate.Struct(s.Global), "global"); err != nil {
		return err
	}
	if s.Proxy != nil {
		if err := structErrors(validate.Struct(s.Proxy), "proxy"); err != nil {
			return err
		}
	}
	if s.Global.APIURL != "" {
		if r := CheckAPIURL(s.Global.APIURL); !r.IsOK() {
			return &ValidationError{Field: "global.api_url", Value: s.Global.APIURL, Message: r.Message}
		}
	}
	return nil
}

// Report is one field check produced by Inspect.
type Report struct {
	Field  string
	Result FormValidation
}

// Inspect runs every admin field check over a loaded configuration.
func Inspect(f *File) []Report {
	reports := []Report{{Field: "global.api_url", Result: CheckAPIURL(f.Global.APIURL)}}
	for _, name := range sortedJobNames(f.Jobs) {
		for i, step := range f.Jobs[name].Publishers {
			n, ok := step.(Notifier)
			if !ok {
				continue
			}
			prefix := fmt.Sprintf("jobs.%s.publishers[%d]", name, i)
			cfg := n.Notifier()
			reports = append(reports,
				Report{Field: prefix + ".micro_service_id", Result: CheckMicroServiceID(cfg.MicroServiceID)},
				Report{Field: prefix + ".signature", Result: CheckSignature(cfg.Signature)},
			)
		}
	}
	return reports
}

func structErrors(err error, prefix string) error {
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return err
	}
	fe := validationErrors[0]
	return &ValidationError{
		Field:   prefix + "." + fe.Field(),
		Value:   fe.Value(),
		Message: fmt.Sprintf("failed condition %q", fe.Tag()),
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s: %s (got: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

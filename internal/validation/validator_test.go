// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package validation

import (
	"strings"
	"testing"
)

type loginRequest struct {
	Role     string `json:"role" validate:"required,oneof=admin user"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"max=72"`
}

type pageRequest struct {
	Limit       int    `json:"limit" validate:"min=1,max=1000"`
	ExecutionID string `json:"execution_id" validate:"omitempty,uuid"`
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	if err := ValidateStruct(&loginRequest{Role: "user", Username: "bob42"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStruct(&pageRequest{Limit: 10}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantField string
		wantTag   string
		wantCode  string
	}{
		{"missing role", &loginRequest{Username: "bob"}, "role", "required", "MISSING_FIELD"},
		{"bad role", &loginRequest{Role: "root", Username: "bob"}, "role", "oneof", "VALIDATION_ERROR"},
		{"missing username", &loginRequest{Role: "user"}, "username", "required", "MISSING_FIELD"},
		{"username with symbols", &loginRequest{Role: "user", Username: "bob; rm"}, "username", "username", "VALIDATION_ERROR"},
		{"username too long", &loginRequest{Role: "user", Username: strings.Repeat("a", 65)}, "username", "username", "VALIDATION_ERROR"},
		{"password too long", &loginRequest{Role: "user", Username: "bob", Password: strings.Repeat("p", 73)}, "password", "max", "VALIDATION_ERROR"},
		{"limit below min", &pageRequest{Limit: 0}, "limit", "min", "VALIDATION_ERROR"},
		{"execution id not uuid", &pageRequest{Limit: 1, ExecutionID: "abc"}, "execution_id", "uuid", "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if err == nil {
				t.Fatal("expected validation error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Errorf("field/tag = %s/%s, want %s/%s", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
			if code := err.ToAPIError().Code; code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestValidateStruct_Messages(t *testing.T) {
	err := ValidateStruct(&loginRequest{Role: "x", Username: strings.Repeat("a", 3), Password: strings.Repeat("p", 80)})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"role must be one of: admin user", "password must be at most 72 characters"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	details := err.ToAPIError().Details
	if fields, ok := details["fields"].([]map[string]any); !ok || len(fields) != 2 {
		t.Errorf("details = %v", details)
	}
}

package spec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTestFileValidate(t *testing.T) {
	cases := []struct {
		name    string
		tf      TestFile
		wantErr bool
	}{
		{
			name:    "missing endpoint",
			tf:      TestFile{ExpectedResponse: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "malformed endpoint",
			tf:      TestFile{Endpoint: "no-slash-here", ExpectedResponse: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "no response, error, or asserts",
			tf:      TestFile{Endpoint: "pkg.Svc/Method"},
			wantErr: true,
		},
		{
			name:    "bad request header",
			tf:      TestFile{Endpoint: "pkg.Svc/Method", ExpectedResponse: json.RawMessage(`{}`), RequestHeaders: []string{"NoColonSpace"}},
			wantErr: true,
		},
		{
			name: "valid with response",
			tf:   TestFile{Endpoint: "pkg.Svc/Method", ExpectedResponse: json.RawMessage(`{"ok":true}`)},
		},
		{
			name: "valid with error only",
			tf:   TestFile{Endpoint: "pkg.Svc/Method", ExpectedError: &ExpectedError{Message: "boom"}},
		},
		{
			name: "valid with asserts only",
			tf:   TestFile{Endpoint: "pkg.Svc/Method", Asserts: []AssertionLine{{Raw: ".ok == true"}}},
		},
		{
			name: "valid headers",
			tf:   TestFile{Endpoint: "pkg.Svc/Method", ExpectedResponse: json.RawMessage(`{}`), RequestHeaders: []string{"Authorization: Bearer x"}},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.tf.Validate()
			if c.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				var specErr *Error
				if !errors.As(err, &specErr) {
					t.Fatalf("expected *spec.Error, got %T", err)
				}
				if specErr.Kind != ValidationError {
					t.Fatalf("expected ValidationError kind, got %v", specErr.Kind)
				}
			}
		})
	}
}

package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBuildUnsignedAdminToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedAdminToken(Params{
		ProjectID:     "local-palmyra",
		UserID:        "admin-123",
		Email:         "admin@example.com",
		Name:          "Dev Admin",
		EmailVerified: true,
		IsAdmin:       true,
		ExpiresIn:     time.Hour,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, payload := splitToken(t, token)
	if got, want := header["alg"], "none"; got != want {
		t.Fatalf("header alg = %v, want %v", got, want)
	}

	if got, want := payload["iss"], "https://securetoken.google.com/local-palmyra"; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
	if got, want := payload["aud"], "local-palmyra"; got != want {
		t.Errorf("aud = %v, want %v", got, want)
	}
	if got, want := payload["sub"], "admin-123"; got != want {
		t.Errorf("sub = %v, want %v", got, want)
	}
	if got, want := payload["email"], "admin@example.com"; got != want {
		t.Errorf("email = %v, want %v", got, want)
	}
	if got, want := payload["isAdmin"], true; got != want {
		t.Errorf("isAdmin = %v, want %v", got, want)
	}
	if got, want := payload["dom"], "CONTROLPLANE"; got != want {
		t.Errorf("dom = %v, want %v", got, want)
	}
	if got, want := payload["exp"], float64(now.Add(time.Hour).Unix()); got != want {
		t.Errorf("exp = %v, want %v", got, want)
	}
	if _, ok := payload["sch"]; ok {
		t.Errorf("admin token must not carry a schema claim")
	}
}

func TestBuildUnsignedAdminTokenRequiresIdentity(t *testing.T) {
	cases := map[string]Params{
		"project": {UserID: "u", Email: "e@x.com"},
		"user":    {ProjectID: "p", Email: "e@x.com"},
		"email":   {ProjectID: "p", UserID: "u"},
	}
	for name, p := range cases {
		if _, err := BuildUnsignedAdminToken(p, time.Time{}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func splitToken(t *testing.T, token string) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		t.Fatalf("invalid token format: %q", token)
	}

	header := decodeSegment(t, parts[0])
	payload := decodeSegment(t, parts[1])
	return header, payload
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}

package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the claims required to mint an unsigned platform-admin JWT
// for local and CI environments. No environment variables are read so the
// builder stays deterministic for tooling.
type Params struct {
	ProjectID     string        // used for aud and iss
	UserID        string        // user_id/sub (required)
	Email         string        // email claim (required)
	Name          string        // display name (optional)
	EmailVerified bool          // email_verified claim
	IsAdmin       bool          // isAdmin custom claim for backend role checks
	ExpiresIn     time.Duration // relative expiry; default 1h if zero
	Audience      string        // optional override; defaults to ProjectID
	Issuer        string        // optional override; defaults to https://securetoken.google.com/<projectId>
}

// BuildUnsignedAdminToken returns a JWT string with alg "none" and no signature.
// The payload mirrors a Firebase ID token tagged with the CONTROLPLANE domain, so
// it flows through the admin routes when AUTH_PROVIDER=dev.
func BuildUnsignedAdminToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return "", errors.New("projectID is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID)
	}

	audience := p.Audience
	if strings.TrimSpace(audience) == "" {
		audience = p.ProjectID
	}

	payload := map[string]interface{}{
		"iss":            issuer,
		"aud":            audience,
		"auth_time":      now.Unix(),
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"name":           p.Name,
		"isAdmin":        p.IsAdmin,
		"dom":            "CONTROLPLANE",
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

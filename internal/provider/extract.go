package provider

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// The provider's create response places the session id and hosted URL in
// different spots depending on delivery mode and API version: the body, a
// Location header, or inside a JWT-like token at the end of that header.
// Extraction is an ordered chain, first match wins.

type createBody struct {
	SessionID  string `json:"session_id"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	URL        string `json:"url"`
	HostedURL  string `json:"hosted_url"`
	EmbedToken string `json:"embed_token"`
	Data       struct {
		SessionID string `json:"session_id"`
	} `json:"data"`
	Links struct {
		Hosted string `json:"hosted"`
	} `json:"links"`
}

func extractCreateResult(raw []byte, header http.Header) *CreateResult {
	var body createBody
	_ = json.Unmarshal(raw, &body) // tolerate non-JSON bodies

	location := header.Get("Location")

	result := &CreateResult{
		RawStatus:  body.Status,
		EmbedToken: body.EmbedToken,
	}

	for _, extract := range []func() string{
		func() string { return body.SessionID },
		func() string { return body.ID },
		func() string { return body.Data.SessionID },
		func() string { return sessionIDFromToken(location) },
	} {
		if id := extract(); id != "" {
			result.ProviderSessionID = id
			break
		}
	}

	for _, extract := range []func() string{
		func() string { return body.URL },
		func() string { return body.HostedURL },
		func() string { return body.Links.Hosted },
		func() string { return location },
	} {
		if u := extract(); u != "" {
			result.HostedURL = u
			break
		}
	}

	return result
}

// sessionIDFromToken decodes the payload segment of a token found at the
// tail of the Location header, the provider's last-resort spot for the
// session id.
func sessionIDFromToken(location string) string {
	if location == "" {
		return ""
	}
	token := location[strings.LastIndex(location, "/")+1:]
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.SessionID
}

package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ManifestPath is where a plugin publishes its manifest, relative to its root URL.
const ManifestPath = "/.well-known/ai-plugin.json"

// Manifest is the plugin's ai-plugin.json self-description.
type Manifest struct {
	SchemaVersion       string `json:"schema_version"`
	NameForHuman        string `json:"name_for_human"`
	NameForModel        string `json:"name_for_model"`
	DescriptionForHuman string `json:"description_for_human"`
	DescriptionForModel string `json:"description_for_model"`
	Auth                Auth   `json:"auth"`
	API                 API    `json:"api"`
	LogoURL             string `json:"logo_url,omitempty"`
	ContactEmail        string `json:"contact_email,omitempty"`
	LegalInfoURL        string `json:"legal_info_url,omitempty"`
}

// Auth describes how the plugin's API authenticates callers.
type Auth struct {
	Type string `json:"type"`
	// 以下字段仅 oauth / service_http 类型使用
	AuthorizationType  string            `json:"authorization_type,omitempty"`
	ClientURL          string            `json:"client_url,omitempty"`
	Scope              string            `json:"scope,omitempty"`
	AuthorizationURL   string            `json:"authorization_url,omitempty"`
	VerificationTokens map[string]string `json:"verification_tokens,omitempty"`
}

// API locates the plugin's OpenAPI document.
type API struct {
	Type                string `json:"type"`
	URL                 string `json:"url" validate:"required"`
	IsUserAuthenticated bool   `json:"is_user_authenticated"`
}

// Validate checks that the manifest names its OpenAPI document.
func (m *Manifest) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trigger

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/restflow-ai/restflow/pkg/models"
)

// ErrUnauthorized is returned for any webhook auth failure; the server
// maps it to 401.
var ErrUnauthorized = fmt.Errorf("unauthorized")

// verifyAuth checks a webhook request against the trigger's auth
// config. Header lookup is case-insensitive.
func verifyAuth(cfg *models.AuthConfig, headers map[string]string) error {
	if cfg == nil || cfg.Mode == models.AuthNone || cfg.Mode == "" {
		return nil
	}
	get := func(name string) string {
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}

	switch cfg.Mode {
	case models.AuthAPIKey:
		headerName := cfg.HeaderName
		if headerName == "" {
			headerName = "X-Api-Key"
		}
		provided := get(headerName)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Key)) != 1 {
			return fmt.Errorf("%w: invalid API key", ErrUnauthorized)
		}
		return nil

	case models.AuthBasic:
		value := get("Authorization")
		if !strings.HasPrefix(value, "Basic ") {
			return fmt.Errorf("%w: missing basic credentials", ErrUnauthorized)
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "Basic "))
		if err != nil {
			return fmt.Errorf("%w: malformed basic credentials", ErrUnauthorized)
		}
		expected := cfg.Username + ":" + cfg.Password
		if subtle.ConstantTimeCompare(decoded, []byte(expected)) != 1 {
			return fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil

	case models.AuthJWT:
		value := get("Authorization")
		if !strings.HasPrefix(value, "Bearer ") {
			return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
		}
		token := strings.TrimPrefix(value, "Bearer ")
		_, err := jwt.Parse([]byte(token),
			jwt.WithKey(jwa.HS256, []byte(cfg.JWTSecret)),
			jwt.WithValidate(true),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported auth mode %q", ErrUnauthorized, cfg.Mode)
	}
}

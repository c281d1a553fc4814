package http

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	headerAuthorization = "Authorization"
	schemeBearer        = "bearer"
)

// normalizeScheme upper-cases the first letter of a scheme that is
// case-insensitively "bearer" and leaves any other scheme untouched, so
// "bearer" becomes "Bearer" while "BEARER" and "app" are kept as given.
func normalizeScheme(scheme string) string {
	if !strings.EqualFold(scheme, schemeBearer) {
		return scheme
	}
	r, size := utf8.DecodeRuneInString(scheme)
	return string(unicode.ToUpper(r)) + scheme[size:]
}

// authorization resolves the Authorization header value and basic
// credentials for auth. At most one of them is set.
func authorization(auth *Auth) (string, *BasicAuth) {
	if auth == nil {
		return "", nil
	}
	if auth.Token != "" && auth.AuthorizationType != "" {
		return normalizeScheme(auth.AuthorizationType) + " " + auth.Token, nil
	}
	if auth.User != "" && auth.Password != "" {
		return "", &BasicAuth{Username: auth.User, Password: auth.Password}
	}
	return "", nil
}

package spotify

import (
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
)

// maxExpiresIn is the largest lifetime, in seconds, a time.Duration can hold.
const maxExpiresIn = float64(math.MaxInt64 / int64(time.Second))

// ParseTokenResponse decodes a token endpoint body received at issuedAt.
//
// access_token, token_type, scope (strings) and expires_in (integer seconds) are
// required; refresh_token is optional and a JSON null counts as absent. Anything
// else is a decodingError.
func ParseTokenResponse(body []byte, issuedAt time.Time) (*TokenRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, decodingError(fmt.Errorf("body is not valid JSON"))
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, decodingError(fmt.Errorf("body is not a JSON object"))
	}

	accessToken, err := requiredString(root, "access_token")
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, decodingError(fmt.Errorf("access_token is empty"))
	}
	tokenType, err := requiredString(root, "token_type")
	if err != nil {
		return nil, err
	}
	scope, err := requiredString(root, "scope")
	if err != nil {
		return nil, err
	}

	expiresIn := root.Get("expires_in")
	if !expiresIn.Exists() {
		return nil, decodingError(fmt.Errorf("missing field expires_in"))
	}
	if expiresIn.Type != gjson.Number || expiresIn.Num != math.Trunc(expiresIn.Num) {
		return nil, decodingError(fmt.Errorf("expires_in must be an integer, got %s", expiresIn.Raw))
	}
	if expiresIn.Num < 0 || expiresIn.Num > maxExpiresIn {
		return nil, decodingError(fmt.Errorf("expires_in %s is out of range", expiresIn.Raw))
	}

	record := &TokenRecord{
		AccessToken: accessToken,
		TokenType:   tokenType,
		Scope:       scope,
		ExpiresAt:   issuedAt.Add(time.Duration(expiresIn.Int()) * time.Second),
	}

	switch refresh := root.Get("refresh_token"); {
	case !refresh.Exists(), refresh.Type == gjson.Null:
	case refresh.Type == gjson.String:
		record.RefreshToken = refresh.String()
	default:
		return nil, decodingError(fmt.Errorf("refresh_token must be a string, got %s", refresh.Raw))
	}
	return record, nil
}

func requiredString(root gjson.Result, field string) (string, error) {
	value := root.Get(field)
	if !value.Exists() {
		return "", decodingError(fmt.Errorf("missing field %s", field))
	}
	if value.Type != gjson.String {
		return "", decodingError(fmt.Errorf("%s must be a string, got %s", field, value.Raw))
	}
	return value.String(), nil
}

// parseOAuthError extracts {"error","error_description"} from a rejected request.
func parseOAuthError(body []byte, status int) *OAuthError {
	if !gjson.ValidBytes(body) {
		return nil
	}
	code := gjson.GetBytes(body, "error")
	if code.Type != gjson.String || code.String() == "" {
		return nil
	}
	return NewOAuthError(code.String(), gjson.GetBytes(body, "error_description").String(), status)
}

func decodingError(cause error) *AuthFailure {
	return &AuthFailure{Kind: KindDecodingError, Cause: cause}
}

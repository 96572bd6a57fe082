package auth

import "errors"

var (
	ErrNoCredentials = errors.New("no credentials configured; set openai.api_key, OPENAI_API_KEY or openai.oauth")
	ErrEmptyToken    = errors.New("token source returned an empty access token")
)

package tokenizer

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// TokenizerConfig summarises a loaded tokenizer for display and validation.
type TokenizerConfig struct {
	Model        string
	DoLowerCase  bool
	StripAccents bool
	MaxLength    int
	VocabSize    int
	CLSTokenID   int
	SEPTokenID   int
	PADTokenID   int
	UNKTokenID   int
}

// hfTokenizerConfig mirrors the fields of tokenizer_config.json we honour.
type hfTokenizerConfig struct {
	DoLowerCase  *bool `json:"do_lower_case"`
	StripAccents *bool `json:"strip_accents"`
	// Float so that the 1e30 "unbounded" sentinel decodes.
	ModelMaxLength *float64   `json:"model_max_length"`
	CLSToken       tokenValue `json:"cls_token"`
	SEPToken       tokenValue `json:"sep_token"`
	PADToken       tokenValue `json:"pad_token"`
	UNKToken       tokenValue `json:"unk_token"`
}

// tokenValue is a special token written either as a plain string or as an
// AddedToken object with a content field.
type tokenValue string

func (v *tokenValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = tokenValue(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*v = tokenValue(obj.Content)
	return nil
}

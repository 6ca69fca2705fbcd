package domain

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestFormatParseRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	id := node.Generate()
	token := Format(id, "s3cret")

	parsedID, secret, err := Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsedID != id || secret != "s3cret" {
		t.Fatalf("parsed = (%v, %q), want (%v, s3cret)", parsedID, secret, id)
	}
}

func TestParseRejectsMalformedTokens(t *testing.T) {
	cases := []string{
		"",
		"pt_",
		"pt_123",
		"pt_.secret",
		"pt_notanumber.secret",
		"sk_123.secret",
		"123.secret",
	}
	for _, token := range cases {
		if _, _, err := Parse(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("Parse(%q) err = %v, want ErrMalformedToken", token, err)
		}
	}
}

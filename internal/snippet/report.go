package snippet

import (
	"encoding/base64"
	"fmt"
	"net/url"
)

// DefaultReportBase is where issue reports are composed.
const DefaultReportBase = "https://codemod.studio"

// ReportURL builds a link carrying the snippets and the name of the faulty
// codemod as base64url query parameters.
func ReportURL(base, codemodName string, s Snippets) (string, error) {
	if base == "" {
		base = DefaultReportBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing report base %q: %w", base, err)
	}
	q := u.Query()
	q.Set("beforeSnippet", encodeParam(s.Before))
	q.Set("afterSnippet", encodeParam(s.After))
	if codemodName != "" {
		q.Set("codemodName", encodeParam(codemodName))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encodeParam(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}

package log

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const redacted = "[redacted]"

// toFields converts alternating keys and values to zap fields. zap.Field and
// error arguments stand alone. An unpaired trailing value is kept under "!BADKEY".
//
// Firmware URLs may carry credentials: query strings of *url fields and values
// of secret-like keys never reach the output.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any("!BADKEY", args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("!BADKEY(%v)", args[i])
		}
		fields = append(fields, field(key, args[i+1]))
		i += 2
	}

	return fields
}

func field(key string, val any) zap.Field {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "password"), strings.Contains(lower, "secret"):
		return zap.String(key, redacted)
	case strings.HasSuffix(lower, "url"), lower == "location":
		if s, ok := val.(string); ok {
			return zap.String(key, stripQuery(s))
		}
	}
	return zap.Any(key, val)
}

// stripQuery drops the query string, which for presigned or tokenized
// download URLs holds the credentials.
func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = ""
	return u.String() + "?" + redacted
}

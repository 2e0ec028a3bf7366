package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeStrictJSON rejects unknown fields and trailing data.
func decodeStrictJSON(data []byte, dst any) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("extraneous data after JSON body")
	}
	return nil
}

// looseString accepts a JSON string, number or boolean and keeps its textual form.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = looseString(value)
	default:
		*s = looseString(raw)
	}
	return nil
}

// looseBool accepts true/false as booleans, strings ("true", "1", "on", "yes") or numbers.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var raw looseString
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	*b = looseBool(parseTruthy(string(raw)))
	return nil
}

func parseTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

func parseSubtotal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("subtotal must be a decimal number")
	}
	if value.IsNegative() {
		return decimal.Zero, errors.New("subtotal must not be negative")
	}
	return value, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

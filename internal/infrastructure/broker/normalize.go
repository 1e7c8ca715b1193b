package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ltpbot/internal/domain/model"
	"ltpbot/internal/infrastructure/feed"
)

// Response fields, in precedence order.
var (
	envelopeKeys = []string{"Success", "data"}
	fillKeys     = []string{"average_price", "avg_price", "price"}
	orderIDKeys  = []string{"order_id", "orderId"}
)

// NormalizeOrderResponse maps a venue order response onto OrderResult.
// Filled is true when an envelope is present and no error is reported; a
// missing or unusable fill price leaves AvgPrice 0.
func NormalizeOrderResponse(raw []byte) (*model.OrderResult, error) {
	body, err := decodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	res := &model.OrderResult{Raw: json.RawMessage(raw)}
	row, ok := envelope(body)
	if !ok {
		return res, nil
	}
	res.Filled = responseError(body) == ""
	if px, ok := feed.FirstNumber(row, fillKeys...); ok {
		res.AvgPrice = px
	}
	for _, k := range orderIDKeys {
		if id := text(row[k]); id != "" {
			res.OrderID = id
			break
		}
	}
	return res, nil
}

// envelope the first populated response envelope; a list yields its first row.
func envelope(body map[string]any) (map[string]any, bool) {
	for _, k := range envelopeKeys {
		switch v := body[k].(type) {
		case map[string]any:
			return v, true
		case []any:
			if len(v) == 0 {
				continue
			}
			if row, ok := v[0].(map[string]any); ok {
				return row, true
			}
		}
	}
	return nil, false
}

// rows every populated envelope row, used by quote and history responses.
func rows(body map[string]any) []map[string]any {
	for _, k := range envelopeKeys {
		switch v := body[k].(type) {
		case map[string]any:
			return []map[string]any{v}
		case []any:
			out := make([]map[string]any, 0, len(v))
			for _, item := range v {
				if row, ok := item.(map[string]any); ok {
					out = append(out, row)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func responseError(body map[string]any) string {
	return text(body["Error"])
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func decodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("empty response")
	}
	return body, nil
}

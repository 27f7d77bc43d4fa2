package sanitize

import "github.com/opencode-studio/gateway/internal/model"

// ErrorSummary walks a raw error object (and its nested data/metadata) and
// projects it onto the whitelisted field set, also mirroring
// message + scalar metadata into a "data" blob for backward compatibility.
func ErrorSummary(raw map[string]interface{}) *model.ErrorSummary {
	if raw == nil {
		return nil
	}

	out := &model.ErrorSummary{
		Name:           str(raw["name"]),
		Type:           str(raw["type"]),
		Code:           str(raw["code"]),
		Classification: str(raw["classification"]),
		StatusCode:     intOf(raw["statusCode"]),
		IsRetryable:    boolOf(raw["isRetryable"]),
		Retries:        intOf(raw["retries"]),
		ProviderID:     str(raw["providerID"]),
		ModelID:        str(raw["modelID"]),
		RequestID:      str(raw["requestID"]),
		Message:        str(raw["message"]),
	}

	if data, ok := raw["data"].(map[string]interface{}); ok {
		out.ResponseMessage = str(data["responseMessage"])
		out.ResponseBody = str(data["responseBody"])
		out.Metadata = scalarsOnly(data["metadata"])
	}
	if out.Metadata == nil {
		out.Metadata = scalarsOnly(raw["metadata"])
	}

	out.Data = map[string]interface{}{"message": out.Message}
	for k, v := range out.Metadata {
		out.Data[k] = v
	}

	return out
}

func scalarsOnly(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := map[string]interface{}{}
	for k, val := range m {
		switch val.(type) {
		case string, float64, bool, nil:
			out[k] = val
		}
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intOf(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func boolOf(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

package wire

import "encoding/json"

type requestJSON struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type responseJSON struct {
	URL        string            `json:"url"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
}

func (r SerializedRequest) MarshalJSON() ([]byte, error) {
	body, err := MarshalBody(r.Body)
	if err != nil {
		return nil, err
	}
	return api.Marshal(requestJSON{
		URL:     r.URL,
		Method:  r.Method,
		Headers: nonNil(r.Headers),
		Body:    body,
	})
}

func (r *SerializedRequest) UnmarshalJSON(data []byte) error {
	var raw requestJSON
	if err := api.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := UnmarshalBody(raw.Body)
	if err != nil {
		return err
	}
	*r = SerializedRequest{URL: raw.URL, Method: raw.Method, Headers: raw.Headers, Body: body}
	return nil
}

func (r SerializedResponse) MarshalJSON() ([]byte, error) {
	body, err := MarshalBody(r.Body)
	if err != nil {
		return nil, err
	}
	return api.Marshal(responseJSON{
		URL:        r.URL,
		Status:     r.Status,
		StatusText: r.StatusText,
		Headers:    nonNil(r.Headers),
		Body:       body,
	})
}

func (r *SerializedResponse) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := api.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := UnmarshalBody(raw.Body)
	if err != nil {
		return err
	}
	*r = SerializedResponse{
		URL:        raw.URL,
		Status:     raw.Status,
		StatusText: raw.StatusText,
		Headers:    raw.Headers,
		Body:       body,
	}
	return nil
}

// Marshal encodes v with the codec's JSON settings.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data with the codec's JSON settings.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

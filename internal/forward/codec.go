package forward

import "encoding/json"

func encodeTraceLine(tl traceLine) ([]byte, error) {
	return json.Marshal(tl)
}

func decodeTraceLine(data []byte, tl *traceLine) error {
	return json.Unmarshal(data, tl)
}

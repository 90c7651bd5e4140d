package landmark

import (
	"encoding/json"
	"fmt"
)

type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarshalJSON encodes the set as an object keyed by keypoint name.
func (s Set) MarshalJSON() ([]byte, error) {
	m := make(map[string]Point, s.Len())
	for _, n := range s.Names() {
		m[n.String()] = s.pts[n]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON and by the
// remote detection service. Fractional coordinates are truncated and unknown
// keypoint names are skipped.
func (s *Set) UnmarshalJSON(data []byte) error {
	var m map[string]wirePoint
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("could not decode landmarks: %w", err)
	}
	*s = Set{}
	for k, p := range m {
		n, ok := ParseName(k)
		if !ok {
			continue
		}
		s.pts[n] = Point{X: int(p.X), Y: int(p.Y)}
		s.present[n] = true
	}
	return nil
}

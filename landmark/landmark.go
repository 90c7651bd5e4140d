// Package landmark defines the named facial keypoints shared between the detectors
// and the face compositor.
package landmark

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Name identifies a facial keypoint.
type Name int

// Keypoints known to the package. The first twelve are the ones the compositor needs.
const (
	EyebrowLeftOuter Name = iota
	EyebrowLeftInner
	EyebrowRightInner
	EyebrowRightOuter
	MouthLeft
	MouthRight
	UnderLipBottom
	NoseRootLeft
	NoseRootRight
	NoseLeftAlarOutTip
	NoseRightAlarOutTip
	NoseTip
	PupilLeft
	PupilRight
	UpperLipTop
	numNames
)

var names = [numNames]string{
	EyebrowLeftOuter:    "eyebrowLeftOuter",
	EyebrowLeftInner:    "eyebrowLeftInner",
	EyebrowRightInner:   "eyebrowRightInner",
	EyebrowRightOuter:   "eyebrowRightOuter",
	MouthLeft:           "mouthLeft",
	MouthRight:          "mouthRight",
	UnderLipBottom:      "underLipBottom",
	NoseRootLeft:        "noseRootLeft",
	NoseRootRight:       "noseRootRight",
	NoseLeftAlarOutTip:  "noseLeftAlarOutTip",
	NoseRightAlarOutTip: "noseRightAlarOutTip",
	NoseTip:             "noseTip",
	PupilLeft:           "pupilLeft",
	PupilRight:          "pupilRight",
	UpperLipTop:         "upperLipTop",
}

// Brows holds the four eyebrow corners.
var Brows = []Name{EyebrowLeftOuter, EyebrowLeftInner, EyebrowRightInner, EyebrowRightOuter}

// Nose holds the five points averaged into the nose centroid.
var Nose = []Name{NoseRootLeft, NoseRootRight, NoseLeftAlarOutTip, NoseRightAlarOutTip, NoseTip}

// Outline holds the points delimiting the face region.
var Outline = []Name{
	EyebrowLeftOuter, EyebrowLeftInner, EyebrowRightInner, EyebrowRightOuter,
	MouthLeft, MouthRight, UnderLipBottom,
}

// Required lists every point needed to composite a face.
var Required = append(append([]Name{}, Outline...), Nose...)

// ErrMissing is returned when a required keypoint is absent.
var ErrMissing = errors.New("missing landmark")

// String returns the wire name of the keypoint.
func (n Name) String() string {
	if n < 0 || n >= numNames {
		return fmt.Sprintf("Name(%d)", int(n))
	}
	return names[n]
}

// ParseName is the inverse of Name.String. The lookup is case-insensitive.
func ParseName(s string) (Name, bool) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return Name(i), true
		}
	}
	return 0, false
}

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Set is an immutable collection of named keypoints for one face.
// The zero value is an empty set.
type Set struct {
	pts     [numNames]Point
	present [numNames]bool
}

// NewSet builds a set from a map. Unknown names are ignored.
func NewSet(pts map[Name]Point) Set {
	var s Set
	for n, p := range pts {
		if n < 0 || n >= numNames {
			continue
		}
		s.pts[n] = p
		s.present[n] = true
	}
	return s
}

// Point returns the keypoint and whether it is present.
func (s Set) Point(n Name) (Point, bool) {
	if n < 0 || n >= numNames || !s.present[n] {
		return Point{}, false
	}
	return s.pts[n], true
}

// With returns a copy of the set with n set to p.
func (s Set) With(n Name, p Point) Set {
	if n >= 0 && n < numNames {
		s.pts[n] = p
		s.present[n] = true
	}
	return s
}

// Without returns a copy of the set with n removed.
func (s Set) Without(n Name) Set {
	if n >= 0 && n < numNames {
		s.pts[n] = Point{}
		s.present[n] = false
	}
	return s
}

// Len returns the number of present keypoints.
func (s Set) Len() int {
	var n int
	for _, ok := range s.present {
		if ok {
			n++
		}
	}
	return n
}

// Names returns the present keypoint names in declaration order.
func (s Set) Names() []Name {
	res := make([]Name, 0, numNames)
	for i, ok := range s.present {
		if ok {
			res = append(res, Name(i))
		}
	}
	return res
}

// Missing returns the names from the list which are absent from the set.
func (s Set) Missing(list ...Name) []Name {
	var res []Name
	for _, n := range list {
		if _, ok := s.Point(n); !ok {
			res = append(res, n)
		}
	}
	return res
}

// Map returns the keypoints as a freshly allocated map.
func (s Set) Map() map[Name]Point {
	m := make(map[Name]Point, s.Len())
	for _, n := range s.Names() {
		m[n] = s.pts[n]
	}
	return m
}

// Translate returns a copy with every present point shifted by d.
func (s Set) Translate(d Point) Set {
	for i, ok := range s.present {
		if ok {
			s.pts[i] = s.pts[i].Add(d)
		}
	}
	return s
}

// MissingError lists the names absent from a set.
type MissingError struct {
	Names []Name
}

func (e *MissingError) Error() string {
	list := make([]string, len(e.Names))
	for i, n := range e.Names {
		list[i] = n.String()
	}
	sort.Strings(list)
	return fmt.Sprintf("%v: %s", ErrMissing, strings.Join(list, ", "))
}

// Is reports ErrMissing as the sentinel of this error.
func (e *MissingError) Is(target error) bool { return target == ErrMissing }

// Require returns a *MissingError if any of the names is absent.
func (s Set) Require(list ...Name) error {
	if missing := s.Missing(list...); len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

// NoseCentroid returns the unweighted integer mean of the five nose points.
// The division truncates toward zero.
func NoseCentroid(s Set) (Point, error) {
	if err := s.Require(Nose...); err != nil {
		return Point{}, err
	}
	var sum Point
	for _, n := range Nose {
		sum = sum.Add(s.pts[n])
	}
	return Point{sum.X / len(Nose), sum.Y / len(Nose)}, nil
}

// Offset returns the translation moving src's nose centroid onto dst's.
func Offset(src, dst Set) (Point, error) {
	sc, err := NoseCentroid(src)
	if err != nil {
		return Point{}, fmt.Errorf("source: %w", err)
	}
	dc, err := NoseCentroid(dst)
	if err != nil {
		return Point{}, fmt.Errorf("destination: %w", err)
	}
	return dc.Sub(sc), nil
}

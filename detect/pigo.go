package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/esimov/facemerge/landmark"
	"github.com/esimov/facemerge/utils"
	pigo "github.com/esimov/pigo/core"
	"github.com/google/uuid"
)

// FlpBinding selects the facial landmark point cascade used for a keypoint.
// Flip mirrors the cascade vertically, which yields the symmetric point on the other side of the face.
type FlpBinding struct {
	Cascade string `yaml:"cascade"`
	Flip    bool   `yaml:"flip"`
}

// DefaultBindings maps the landmark names onto the cascades shipped with pigo.
// lp93 finds the nose tip, lp84 the mouth corners, lp82 the lower lip and lp81 the upper lip.
// No cascade localises the nose root or the alar points, see deriveNose.
var DefaultBindings = map[landmark.Name]FlpBinding{
	landmark.EyebrowLeftOuter:  {Cascade: "lp46"},
	landmark.EyebrowRightOuter: {Cascade: "lp46", Flip: true},
	landmark.EyebrowLeftInner:  {Cascade: "lp44"},
	landmark.EyebrowRightInner: {Cascade: "lp44", Flip: true},
	landmark.NoseTip:           {Cascade: "lp93"},
	landmark.MouthLeft:         {Cascade: "lp84"},
	landmark.MouthRight:        {Cascade: "lp84", Flip: true},
	landmark.UnderLipBottom:    {Cascade: "lp82"},
	landmark.UpperLipTop:       {Cascade: "lp81"},
}

// ParseBindings converts a configuration map keyed by landmark names.
func ParseBindings(m map[string]FlpBinding) (map[landmark.Name]FlpBinding, error) {
	res := make(map[landmark.Name]FlpBinding, len(m))
	for k, b := range m {
		n, ok := landmark.ParseName(k)
		if !ok {
			return nil, fmt.Errorf("unknown landmark %q", k)
		}
		if b.Cascade == "" {
			return nil, fmt.Errorf("landmark %q has no cascade", k)
		}
		res[n] = b
	}
	return res, nil
}

// PigoConfig configures the local detector.
type PigoConfig struct {
	FaceCascade   string
	PuplocCascade string
	FlplocDir     string
	MinSize       int
	MaxSize       int
	ShiftFactor   float64
	ScaleFactor   float64
	IoUThreshold  float64
	// QThreshold discards detections with a lower score.
	QThreshold float32
	Angle      float64
	Perturb    int
	Bindings   map[landmark.Name]FlpBinding
}

// Pigo detects faces and landmarks locally with the pigo cascades.
// It is safe for concurrent use once constructed.
type Pigo struct {
	cfg    PigoConfig
	face   *pigo.Pigo
	puploc *pigo.PuplocCascade
	flp    map[string][]*pigo.FlpCascade
}

// NewPigo loads the cascade files and validates the bindings.
func NewPigo(cfg PigoConfig) (*Pigo, error) {
	if cfg.Bindings == nil {
		cfg.Bindings = DefaultBindings
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 60
	}
	if cfg.ShiftFactor <= 0 {
		cfg.ShiftFactor = 0.1
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.2
	}
	if cfg.Perturb <= 0 {
		cfg.Perturb = 63
	}

	cascadeFile, err := os.ReadFile(cfg.FaceCascade)
	if err != nil {
		return nil, fmt.Errorf("error reading the face cascade file: %w", err)
	}
	face, err := pigo.NewPigo().Unpack(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the face cascade file: %w", err)
	}

	puplocFile, err := os.ReadFile(cfg.PuplocCascade)
	if err != nil {
		return nil, fmt.Errorf("error reading the pupil cascade file: %w", err)
	}
	plc, err := pigo.NewPuplocCascade().UnpackCascade(puplocFile)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the pupil cascade file: %w", err)
	}

	flp, err := plc.ReadCascadeDir(cfg.FlplocDir)
	if err != nil {
		return nil, fmt.Errorf("error reading the facial landmark cascades: %w", err)
	}
	for n, b := range cfg.Bindings {
		if len(flp[b.Cascade]) == 0 {
			return nil, fmt.Errorf("cascade %q bound to %v not found in %s", b.Cascade, n, cfg.FlplocDir)
		}
	}

	return &Pigo{cfg: cfg, face: face, puploc: plc, flp: flp}, nil
}

// Detect implements Detector. Failures are permanent, a local detector has nothing to retry.
func (p *Pigo) Detect(ctx context.Context, data []byte) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, NewOther("InvalidImage", err.Error())
	}

	bounds := src.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()
	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(src),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}

	maxSize := utils.Max(cols, rows)
	if p.cfg.MaxSize > 0 {
		maxSize = utils.Min(maxSize, p.cfg.MaxSize)
	}
	cParams := pigo.CascadeParams{
		MinSize:     p.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: p.cfg.ShiftFactor,
		ScaleFactor: p.cfg.ScaleFactor,
		ImageParams: imgParams,
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	dets := p.face.RunCascade(cParams, p.cfg.Angle)
	dets = p.face.ClusterDetections(dets, p.cfg.IoUThreshold)

	// Strongest detection first, so callers picking one face get the most reliable.
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	var faces []Face
	for _, det := range dets {
		if det.Q < p.cfg.QThreshold {
			continue
		}
		faces = append(faces, Face{
			ID: uuid.NewString(),
			Rect: image.Rect(
				det.Col-det.Scale/2, det.Row-det.Scale/2,
				det.Col+det.Scale/2, det.Row+det.Scale/2,
			),
			Landmarks: p.landmarks(det, imgParams),
		})
	}
	return faces, nil
}

// landmarks localises the pupils of a detected face, then every bound landmark point relative to them.
func (p *Pigo) landmarks(det pigo.Detection, img pigo.ImageParams) landmark.Set {
	pts := make(map[landmark.Name]landmark.Point)

	eye := func(dir int) *pigo.Puploc {
		return p.puploc.RunDetector(pigo.Puploc{
			Row:      det.Row - int(0.085*float32(det.Scale)),
			Col:      det.Col + dir*int(0.185*float32(det.Scale)),
			Scale:    float32(det.Scale) * 0.4,
			Perturbs: p.cfg.Perturb,
		}, img, p.cfg.Angle, false)
	}
	leftEye, rightEye := eye(-1), eye(1)
	if !valid(leftEye) || !valid(rightEye) {
		return landmark.NewSet(pts)
	}
	pts[landmark.PupilLeft] = landmark.Point{X: leftEye.Col, Y: leftEye.Row}
	pts[landmark.PupilRight] = landmark.Point{X: rightEye.Col, Y: rightEye.Row}

	for name, b := range p.cfg.Bindings {
		for _, flpc := range p.flp[b.Cascade] {
			pt := flpc.GetLandmarkPoint(leftEye, rightEye, img, p.cfg.Perturb, b.Flip)
			if valid(pt) {
				pts[name] = landmark.Point{X: pt.Col, Y: pt.Row}
				break
			}
		}
	}
	deriveNose(pts)
	return landmark.NewSet(pts)
}

// deriveNose estimates the unbound nose root and alar points from the pupils and the nose tip.
// The root pair sits on the pupil line, an eighth of the interpupillary distance off the
// midline; the alar pair a quarter of it beside the tip, slightly above it.
func deriveNose(pts map[landmark.Name]landmark.Point) {
	pl, okL := pts[landmark.PupilLeft]
	pr, okR := pts[landmark.PupilRight]
	tip, okT := pts[landmark.NoseTip]
	if !okL || !okR || !okT {
		return
	}
	ipd := utils.Abs(pr.X - pl.X)
	midX, eyeY := (pl.X+pr.X)/2, (pl.Y+pr.Y)/2

	derived := map[landmark.Name]landmark.Point{
		landmark.NoseRootLeft:        {X: midX - ipd/8, Y: eyeY},
		landmark.NoseRootRight:       {X: midX + ipd/8, Y: eyeY},
		landmark.NoseLeftAlarOutTip:  {X: tip.X - ipd/4, Y: tip.Y - ipd/10},
		landmark.NoseRightAlarOutTip: {X: tip.X + ipd/4, Y: tip.Y - ipd/10},
	}
	for n, p := range derived {
		if _, bound := pts[n]; !bound {
			pts[n] = p
		}
	}
}

func valid(pl *pigo.Puploc) bool {
	return pl != nil && pl.Row > 0 && pl.Col > 0
}

package predict

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ManifestMagic opens every manifest.
const ManifestMagic = "vmafmanifest"

// ManifestVersion is the only manifest version understood.
const ManifestVersion = 1

// MaxFeatures bounds the feature table of one asset.
const MaxFeatures = 32

// Top-level manifest fields.
const (
	fieldMagic        protowire.Number = 1
	fieldVersion      protowire.Number = 2
	fieldFeatureCount protowire.Number = 3
	fieldFeature      protowire.Number = 4
	fieldTransform    protowire.Number = 5
	fieldClip         protowire.Number = 6
	fieldCI           protowire.Number = 7
)

// Bound selects which side of a confidence interval a sub-predictor gives.
type Bound int

// Interval bounds.
const (
	BoundLower Bound = 0
	BoundUpper Bound = 1
)

// FeatureSpec names one input of the predictor and its normalization.
type FeatureSpec struct {
	Name      string
	Slope     float64
	Intercept float64
}

// Transform is the linear map a*x + b.
type Transform struct {
	A float64
	B float64
}

// Apply returns a*x + b.
func (t Transform) Apply(x float64) float64 { return t.A*x + t.B }

// Range is a closed interval [Lo, Hi].
type Range struct {
	Lo float64
	Hi float64
}

// CIResource locates a confidence-interval sub-predictor, relative to the
// manifest's directory.
type CIResource struct {
	Bound    Bound
	Resource string
}

// Manifest describes a predictor asset: its inputs and the optional
// post-processing stages.
type Manifest struct {
	Version   int
	Features  []FeatureSpec
	Transform *Transform
	Clip      *Range
	CI        []CIResource
}

// MarshalBinary encodes m in protobuf wire format.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	if len(m.Features) > MaxFeatures {
		return nil, fmt.Errorf("%w: %d features exceed %d", ErrDeserialization, len(m.Features), MaxFeatures)
	}
	version := m.Version
	if version == 0 {
		version = ManifestVersion
	}

	var b []byte
	b = protowire.AppendTag(b, fieldMagic, protowire.BytesType)
	b = protowire.AppendString(b, ManifestMagic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))
	b = protowire.AppendTag(b, fieldFeatureCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(m.Features)))

	for _, f := range m.Features {
		var fb []byte
		fb = protowire.AppendTag(fb, 1, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Name)
		fb = appendDouble(fb, 2, f.Slope)
		fb = appendDouble(fb, 3, f.Intercept)
		b = protowire.AppendTag(b, fieldFeature, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	if m.Transform != nil {
		var tb []byte
		tb = appendDouble(tb, 1, m.Transform.A)
		tb = appendDouble(tb, 2, m.Transform.B)
		b = protowire.AppendTag(b, fieldTransform, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	if m.Clip != nil {
		var cb []byte
		cb = appendDouble(cb, 1, m.Clip.Lo)
		cb = appendDouble(cb, 2, m.Clip.Hi)
		b = protowire.AppendTag(b, fieldClip, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	for _, ci := range m.CI {
		var cb []byte
		cb = protowire.AppendTag(cb, 1, protowire.VarintType)
		cb = protowire.AppendVarint(cb, uint64(ci.Bound))
		cb = protowire.AppendTag(cb, 2, protowire.BytesType)
		cb = protowire.AppendString(cb, ci.Resource)
		b = protowire.AppendTag(b, fieldCI, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b, nil
}

// DecodeManifest parses a manifest. Every record's tag and length are
// checked before its contents are used, and the declared feature count is
// checked against MaxFeatures and the remaining input before the feature
// table is allocated.
func DecodeManifest(b []byte) (*Manifest, error) {
	m := &Manifest{}
	sawMagic, sawVersion, sawCount := false, false, false
	featureCount := 0

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError("tag", n)
		}
		b = b[n:]
		if !sawMagic && num != fieldMagic {
			return nil, fmt.Errorf("%w: field %d before magic", ErrDeserialization, num)
		}

		switch num {
		case fieldMagic:
			v, n, err := consumeBytes(b, typ, "magic")
			if err != nil {
				return nil, err
			}
			if sawMagic || string(v) != ManifestMagic {
				return nil, fmt.Errorf("%w: bad magic", ErrDeserialization)
			}
			sawMagic = true
			b = b[n:]

		case fieldVersion:
			v, n, err := consumeVarint(b, typ, "version")
			if err != nil {
				return nil, err
			}
			if v != ManifestVersion {
				return nil, fmt.Errorf("%w: unsupported version %d", ErrDeserialization, v)
			}
			m.Version, sawVersion = int(v), true
			b = b[n:]

		case fieldFeatureCount:
			v, n, err := consumeVarint(b, typ, "feature count")
			if err != nil {
				return nil, err
			}
			b = b[n:]
			if sawCount {
				return nil, fmt.Errorf("%w: duplicate feature count", ErrDeserialization)
			}
			// each feature record takes at least a tag and a length byte
			if v > MaxFeatures || v > uint64(len(b)/2) {
				return nil, fmt.Errorf("%w: feature count %d exceeds limits", ErrDeserialization, v)
			}
			featureCount, sawCount = int(v), true
			m.Features = make([]FeatureSpec, 0, featureCount)

		case fieldFeature:
			if !sawCount {
				return nil, fmt.Errorf("%w: feature before feature count", ErrDeserialization)
			}
			if len(m.Features) == featureCount {
				return nil, fmt.Errorf("%w: more than %d features", ErrDeserialization, featureCount)
			}
			v, n, err := consumeBytes(b, typ, "feature")
			if err != nil {
				return nil, err
			}
			f, err := decodeFeature(v)
			if err != nil {
				return nil, err
			}
			m.Features = append(m.Features, f)
			b = b[n:]

		case fieldTransform:
			v, n, err := consumeBytes(b, typ, "transform")
			if err != nil {
				return nil, err
			}
			if m.Transform != nil {
				return nil, fmt.Errorf("%w: duplicate transform", ErrDeserialization)
			}
			a, c, err := decodePair(v, "transform")
			if err != nil {
				return nil, err
			}
			m.Transform = &Transform{A: a, B: c}
			b = b[n:]

		case fieldClip:
			v, n, err := consumeBytes(b, typ, "clip")
			if err != nil {
				return nil, err
			}
			if m.Clip != nil {
				return nil, fmt.Errorf("%w: duplicate clip", ErrDeserialization)
			}
			lo, hi, err := decodePair(v, "clip")
			if err != nil {
				return nil, err
			}
			if !(lo <= hi) {
				return nil, fmt.Errorf("%w: clip range [%v, %v]", ErrDeserialization, lo, hi)
			}
			m.Clip = &Range{Lo: lo, Hi: hi}
			b = b[n:]

		case fieldCI:
			v, n, err := consumeBytes(b, typ, "ci")
			if err != nil {
				return nil, err
			}
			ci, err := decodeCI(v)
			if err != nil {
				return nil, err
			}
			for _, prev := range m.CI {
				if prev.Bound == ci.Bound {
					return nil, fmt.Errorf("%w: duplicate ci bound %d", ErrDeserialization, ci.Bound)
				}
			}
			m.CI = append(m.CI, ci)
			b = b[n:]

		default:
			return nil, fmt.Errorf("%w: unknown field %d", ErrDeserialization, num)
		}
	}

	switch {
	case !sawMagic:
		return nil, fmt.Errorf("%w: empty manifest", ErrDeserialization)
	case !sawVersion:
		return nil, fmt.Errorf("%w: missing version", ErrDeserialization)
	case !sawCount:
		return nil, fmt.Errorf("%w: missing feature count", ErrDeserialization)
	case len(m.Features) != featureCount:
		return nil, fmt.Errorf("%w: %d features, declared %d", ErrDeserialization, len(m.Features), featureCount)
	}
	return m, nil
}

// Interval returns the resource for bound, if present.
func (m *Manifest) Interval(bound Bound) (string, bool) {
	for _, ci := range m.CI {
		if ci.Bound == bound {
			return ci.Resource, true
		}
	}
	return "", false
}

func decodeFeature(b []byte) (FeatureSpec, error) {
	f := FeatureSpec{Slope: 1}
	sawName := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return FeatureSpec{}, wireError("feature tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeBytes(b, typ, "feature name")
			if err != nil {
				return FeatureSpec{}, err
			}
			f.Name, sawName = string(v), true
			b = b[n:]
		case 2, 3:
			v, n, err := consumeDouble(b, typ, "feature normalization")
			if err != nil {
				return FeatureSpec{}, err
			}
			if num == 2 {
				f.Slope = v
			} else {
				f.Intercept = v
			}
			b = b[n:]
		default:
			return FeatureSpec{}, fmt.Errorf("%w: unknown feature field %d", ErrDeserialization, num)
		}
	}
	if !sawName || f.Name == "" {
		return FeatureSpec{}, fmt.Errorf("%w: feature without name", ErrDeserialization)
	}
	return f, nil
}

// decodePair reads the two doubles of a transform or clip record. Both
// fields are required.
func decodePair(b []byte, what string) (float64, float64, error) {
	var vals [2]float64
	var seen [2]bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, wireError(what+" tag", n)
		}
		b = b[n:]
		if num != 1 && num != 2 {
			return 0, 0, fmt.Errorf("%w: unknown %s field %d", ErrDeserialization, what, num)
		}
		v, n, err := consumeDouble(b, typ, what)
		if err != nil {
			return 0, 0, err
		}
		vals[num-1], seen[num-1] = v, true
		b = b[n:]
	}
	if !seen[0] || !seen[1] {
		return 0, 0, fmt.Errorf("%w: incomplete %s", ErrDeserialization, what)
	}
	return vals[0], vals[1], nil
}

func decodeCI(b []byte) (CIResource, error) {
	ci := CIResource{}
	sawBound := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return CIResource{}, wireError("ci tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b, typ, "ci bound")
			if err != nil {
				return CIResource{}, err
			}
			if v > uint64(BoundUpper) {
				return CIResource{}, fmt.Errorf("%w: ci bound %d", ErrDeserialization, v)
			}
			ci.Bound, sawBound = Bound(v), true
			b = b[n:]
		case 2:
			v, n, err := consumeBytes(b, typ, "ci resource")
			if err != nil {
				return CIResource{}, err
			}
			ci.Resource = string(v)
			b = b[n:]
		default:
			return CIResource{}, fmt.Errorf("%w: unknown ci field %d", ErrDeserialization, num)
		}
	}
	if !sawBound || ci.Resource == "" {
		return CIResource{}, fmt.Errorf("%w: incomplete ci record", ErrDeserialization)
	}
	return ci, nil
}

func consumeBytes(b []byte, typ protowire.Type, what string) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: %s has wire type %d", ErrDeserialization, what, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(what, n)
	}
	return v, n, nil
}

func consumeVarint(b []byte, typ protowire.Type, what string) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: %s has wire type %d", ErrDeserialization, what, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(what, n)
	}
	return v, n, nil
}

func consumeDouble(b []byte, typ protowire.Type, what string) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("%w: %s has wire type %d", ErrDeserialization, what, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, wireError(what, n)
	}
	return math.Float64frombits(v), n, nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func wireError(what string, n int) error {
	return fmt.Errorf("%w: %s: %w", ErrDeserialization, what, protowire.ParseError(n))
}

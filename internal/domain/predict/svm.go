package predict

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ModelSuffix is appended to an asset path to locate its numerical predictor.
const ModelSuffix = ".model"

// maxSupportVectors bounds the support vectors read from one model file.
const maxSupportVectors = 1 << 20

type kernelType int

const (
	kernelLinear kernelType = iota
	kernelPolynomial
	kernelRBF
	kernelSigmoid
)

var kernelByName = map[string]kernelType{
	"linear":     kernelLinear,
	"polynomial": kernelPolynomial,
	"rbf":        kernelRBF,
	"sigmoid":    kernelSigmoid,
}

type svNode struct {
	index int // 0-based
	value float64
}

type supportVector struct {
	coef  float64
	nodes []svNode
}

// svr is a support vector regression model in libsvm's text format.
type svr struct {
	kernel kernelType
	degree int
	gamma  float64
	coef0  float64
	rho    float64
	svs    []supportVector
	dim    int // largest feature index referenced
}

// parseSVR reads an epsilon_svr or nu_svr model.
func parseSVR(r io.Reader) (*svr, error) {
	m := &svr{degree: 3}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	total := -1
	line := 0
	inSV := false
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if inSV {
			if len(m.svs) == total {
				return nil, fmt.Errorf("line %d: more than %d support vectors", line, total)
			}
			sv, err := parseSupportVector(text)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			for _, n := range sv.nodes {
				m.dim = max(m.dim, n.index+1)
			}
			m.svs = append(m.svs, sv)
			continue
		}

		key, rest, _ := strings.Cut(text, " ")
		rest = strings.TrimSpace(rest)
		var err error
		switch key {
		case "svm_type":
			if rest != "epsilon_svr" && rest != "nu_svr" {
				err = fmt.Errorf("unsupported svm_type %q", rest)
			}
		case "kernel_type":
			k, ok := kernelByName[rest]
			if !ok {
				err = fmt.Errorf("unsupported kernel_type %q", rest)
			}
			m.kernel = k
		case "degree":
			m.degree, err = strconv.Atoi(rest)
		case "gamma":
			m.gamma, err = strconv.ParseFloat(rest, 64)
		case "coef0":
			m.coef0, err = strconv.ParseFloat(rest, 64)
		case "rho":
			m.rho, err = strconv.ParseFloat(rest, 64)
		case "total_sv":
			total, err = strconv.Atoi(rest)
			if err == nil && (total < 0 || total > maxSupportVectors) {
				err = fmt.Errorf("total_sv %d out of range", total)
			}
		case "nr_class":
			if rest != "2" {
				err = fmt.Errorf("nr_class %q, want 2", rest)
			}
		case "label", "nr_sv", "probA", "probB":
		case "SV":
			if total < 0 {
				err = fmt.Errorf("SV section before total_sv")
				break
			}
			m.svs = make([]supportVector, 0, min(total, 1024))
			inSV = true
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inSV {
		return nil, fmt.Errorf("missing SV section")
	}
	if len(m.svs) != total {
		return nil, fmt.Errorf("read %d support vectors, want %d", len(m.svs), total)
	}
	return m, nil
}

func parseSupportVector(text string) (supportVector, error) {
	fields := strings.Fields(text)
	coef, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return supportVector{}, fmt.Errorf("coefficient: %w", err)
	}
	sv := supportVector{coef: coef, nodes: make([]svNode, 0, len(fields)-1)}
	prev := 0
	for _, f := range fields[1:] {
		is, vs, ok := strings.Cut(f, ":")
		if !ok {
			return supportVector{}, fmt.Errorf("malformed node %q", f)
		}
		idx, err := strconv.Atoi(is)
		if err != nil || idx <= prev || idx > MaxFeatures {
			return supportVector{}, fmt.Errorf("bad node index %q", is)
		}
		v, err := strconv.ParseFloat(vs, 64)
		if err != nil {
			return supportVector{}, fmt.Errorf("node %d: %w", idx, err)
		}
		sv.nodes = append(sv.nodes, svNode{index: idx - 1, value: v})
		prev = idx
	}
	return sv, nil
}

// predict evaluates the decision function on a dense feature vector of at
// least m.dim values.
func (m *svr) predict(x []float64) float64 {
	var xx float64
	if m.kernel == kernelRBF {
		for _, v := range x {
			xx += v * v
		}
	}
	var sum float64
	for _, sv := range m.svs {
		sum += sv.coef * m.eval(x, xx, sv.nodes)
	}
	return sum - m.rho
}

func (m *svr) eval(x []float64, xx float64, nodes []svNode) float64 {
	switch m.kernel {
	case kernelPolynomial:
		return math.Pow(m.gamma*dot(x, nodes)+m.coef0, float64(m.degree))
	case kernelRBF:
		// |x-y|^2 over x's dense coordinates
		d := xx
		for _, n := range nodes {
			xi := x[n.index]
			d += (xi-n.value)*(xi-n.value) - xi*xi
		}
		return math.Exp(-m.gamma * d)
	case kernelSigmoid:
		return math.Tanh(m.gamma*dot(x, nodes) + m.coef0)
	default:
		return dot(x, nodes)
	}
}

func dot(x []float64, nodes []svNode) float64 {
	var s float64
	for _, n := range nodes {
		s += x[n.index] * n.value
	}
	return s
}

package featurelog_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/vmafmotion/internal/adapters/featurelog"
	. "github.com/smartystreets/goconvey/convey"
)

const sample = `features: [adm2, motion2, vif_scale0]
frames:
  - [0.9, 0.0, 0.5]
  - [0.8, 3.5, 0.4]
`

func TestRead(t *testing.T) {
	Convey("Given a feature log", t, func() {
		l, err := featurelog.Read(strings.NewReader(sample))
		So(err, ShouldBeNil)

		Convey("When reordering to a model's feature names", func() {
			vecs, err := l.Vectors([]string{"motion2", "adm2"})

			Convey("Then columns should follow the requested order", func() {
				So(err, ShouldBeNil)
				So(vecs, ShouldResemble, [][]float64{{0, 0.9}, {3.5, 0.8}})
			})
		})

		Convey("When a requested feature is absent", func() {
			_, err := l.Vectors([]string{"motion2", "psnr"})

			Convey("Then it should fail with ErrMissingFeature", func() {
				So(errors.Is(err, featurelog.ErrMissingFeature), ShouldBeTrue)
				So(errors.Is(l.Require("adm2", "psnr"), featurelog.ErrMissingFeature), ShouldBeTrue)
				So(l.Require("adm2"), ShouldBeNil)
			})
		})

		Convey("When writing it back out", func() {
			var buf bytes.Buffer
			So(featurelog.Write(&buf, l), ShouldBeNil)
			again, err := featurelog.Read(&buf)

			Convey("Then the same table should be read", func() {
				So(err, ShouldBeNil)
				So(again, ShouldResemble, l)
			})
		})
	})

	Convey("Given malformed logs", t, func() {
		for _, doc := range []string{
			"",
			"features: []\n",
			"features: [a, a]\nframes: []\n",
			"features: [a, b]\nframes:\n  - [1]\n",
			"features: [a]\nextra: 1\n",
			"features: [a]\nframes: nope\n",
		} {
			_, err := featurelog.Read(strings.NewReader(doc))
			So(errors.Is(err, featurelog.ErrInvalidLog), ShouldBeTrue)
		}
	})

	Convey("Given a log file on disk", t, func() {
		path := filepath.Join(t.TempDir(), "features.yaml")
		So(os.WriteFile(path, []byte(sample), 0o600), ShouldBeNil)

		Convey("Then Open should read it", func() {
			l, err := featurelog.Open(path)
			So(err, ShouldBeNil)
			So(l.Frames, ShouldHaveLength, 2)
		})

		Convey("Then a missing file should fail", func() {
			_, err := featurelog.Open(path + ".gone")
			So(err, ShouldNotBeNil)
		})
	})
}

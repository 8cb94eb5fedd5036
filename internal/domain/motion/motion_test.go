package motion_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/vmafmotion/internal/adapters/framesource"
	"github.com/okian/vmafmotion/internal/domain/frame"
	"github.com/okian/vmafmotion/internal/domain/motion"
	"github.com/okian/vmafmotion/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func randomPlane(a *frame.Arena, w, h int, rng *rand.Rand) *frame.Plane {
	p, err := a.NewPlane(w, h)
	if err != nil {
		panic(err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.Set(x, y, float32(rng.Intn(256)))
		}
	}
	return p
}

func TestBlur(t *testing.T) {
	Convey("Given the blur kernel", t, func() {
		a := frame.NewArena()
		defer a.Release()

		Convey("Then its taps should sum to one", func() {
			sum := 0.0
			for _, tap := range motion.Filter5 {
				sum += tap
			}
			So(sum, ShouldAlmostEqual, 1.0, 1e-8)
		})

		Convey("When blurring a constant plane", func() {
			planes, err := a.Acquire(3, 7, 5)
			So(err, ShouldBeNil)
			src, dst, tmp := planes[0], planes[1], planes[2]
			src.Fill(200)
			So(motion.Blur(dst, src, tmp), ShouldBeNil)

			Convey("Then every pixel should equal the offset value exactly", func() {
				for y := 0; y < 5; y++ {
					for x := 0; x < 7; x++ {
						So(dst.At(x, y), ShouldEqual, float32(200+motion.PixelOffset))
					}
				}
			})

			Convey("And the source should be untouched", func() {
				So(src.At(3, 3), ShouldEqual, 200)
			})
		})

		Convey("When blurring a single impulse", func() {
			planes, err := a.Acquire(3, 9, 9)
			So(err, ShouldBeNil)
			src, dst, tmp := planes[0], planes[1], planes[2]
			src.Fill(128)
			src.Set(4, 4, 129)
			So(motion.Blur(dst, src, tmp), ShouldBeNil)

			Convey("Then the response should be the outer product of the taps", func() {
				So(dst.At(4, 4), ShouldAlmostEqual, motion.Filter5[2]*motion.Filter5[2], 1e-6)
				So(dst.At(2, 4), ShouldAlmostEqual, motion.Filter5[0]*motion.Filter5[2], 1e-6)
				So(dst.At(0, 0), ShouldEqual, 0)
			})
		})

		Convey("When planes differ in shape", func() {
			p1, _ := a.NewPlane(4, 4)
			p2, _ := a.NewPlane(4, 5)
			p3, _ := a.NewPlane(4, 4)

			Convey("Then it should fail with ErrInvalidDimensions", func() {
				So(errors.Is(motion.Blur(p1, p2, p3), frame.ErrInvalidDimensions), ShouldBeTrue)
			})
		})

		Convey("When a plane carries a misaligned stride", func() {
			p1, _ := a.NewPlane(4, 4)
			p3, _ := a.NewPlane(4, 4)
			bad := &frame.Plane{Width: 4, Height: 4, Stride: 18, Data: make([]float32, 32)}

			Convey("Then it should fail with ErrAlignment", func() {
				So(errors.Is(motion.Blur(p1, bad, p3), frame.ErrAlignment), ShouldBeTrue)
			})
		})

		Convey("When the plane is a single pixel", func() {
			planes, err := a.Acquire(3, 1, 1)
			So(err, ShouldBeNil)
			planes[0].Fill(10)

			Convey("Then mirrored taps should stay inside the plane", func() {
				So(motion.Blur(planes[1], planes[0], planes[2]), ShouldBeNil)
				So(planes[1].At(0, 0), ShouldEqual, float32(10+motion.PixelOffset))
			})
		})
	})
}

func TestSAD(t *testing.T) {
	Convey("Given pairs of planes", t, func() {
		a := frame.NewArena()
		defer a.Release()
		rng := rand.New(rand.NewSource(7))

		Convey("When both planes are identical", func() {
			for _, dims := range [][2]int{{1, 1}, {3, 2}, {17, 9}, {64, 3}} {
				p := randomPlane(a, dims[0], dims[1], rng)
				q, err := a.NewPlane(dims[0], dims[1])
				So(err, ShouldBeNil)
				copy(q.Data, p.Data)

				s, err := motion.Score(p, q)
				So(err, ShouldBeNil)
				So(s, ShouldEqual, 0)
			}
		})

		Convey("When the same pixels are stored with different strides", func() {
			p := randomPlane(a, 5, 4, rng)
			wide := make([]float32, 12*4)
			for y := 0; y < 4; y++ {
				copy(wide[y*12:], p.Row(y))
			}

			Convey("Then the score should still be zero", func() {
				s, err := motion.SAD(p.Data, wide, 5, 4, p.Stride, 48)
				So(err, ShouldBeNil)
				So(s, ShouldEqual, 0)
			})
		})

		Convey("When swapping the arguments", func() {
			for i := 0; i < 10; i++ {
				p := randomPlane(a, 11, 6, rng)
				q := randomPlane(a, 11, 6, rng)
				ab, err := motion.Score(p, q)
				So(err, ShouldBeNil)
				ba, err := motion.Score(q, p)
				So(err, ShouldBeNil)
				So(ab, ShouldEqual, ba)
				So(ab, ShouldBeGreaterThanOrEqualTo, 0)
			}
		})

		Convey("When planes differ by a constant", func() {
			p, _ := a.NewPlane(6, 6)
			q, _ := a.NewPlane(6, 6)
			p.Fill(3)
			q.Fill(5.5)

			Convey("Then the score should be that constant", func() {
				s, err := motion.Score(p, q)
				So(err, ShouldBeNil)
				So(s, ShouldEqual, 2.5)
			})
		})

		Convey("When a stride is misaligned", func() {
			_, err := motion.SAD(make([]float32, 16), make([]float32, 16), 2, 2, 10, 8)

			Convey("Then it should fail with ErrAlignment", func() {
				So(errors.Is(err, frame.ErrAlignment), ShouldBeTrue)
			})
		})

		Convey("When the plane is empty", func() {
			_, err := motion.SAD(nil, nil, 0, 4, 16, 16)

			Convey("Then it should fail with ErrInvalidDimensions", func() {
				So(errors.Is(err, frame.ErrInvalidDimensions), ShouldBeTrue)
			})
		})
	})
}

func TestSADCells(t *testing.T) {
	Convey("Given two 4x4 planes differing by 2 everywhere", t, func() {
		a := frame.NewArena()
		defer a.Release()
		p, _ := a.NewPlane(4, 4)
		q, _ := a.NewPlane(4, 4)
		q.Fill(2)

		Convey("When restricting to four cells", func() {
			s, err := motion.ScoreCells(p, q, []int{0, 5, 10, 15})

			Convey("Then the sum should be divided by the full pixel count", func() {
				So(err, ShouldBeNil)
				So(s, ShouldEqual, 0.5)
			})
		})

		Convey("When a cell lies outside the plane", func() {
			_, err := motion.ScoreCells(p, q, []int{16})

			Convey("Then it should fail with ErrInvalidDimensions", func() {
				So(errors.Is(err, frame.ErrInvalidDimensions), ShouldBeTrue)
			})
		})

		Convey("When listing the cell differences lazily", func() {
			var idx []int
			for c, d := range motion.CellDiffs(p, q, []int{3, 1, 99}) {
				idx = append(idx, c)
				So(d, ShouldEqual, 2)
			}

			Convey("Then cells should follow the given order and skip bad indices", func() {
				So(idx, ShouldResemble, []int{3, 1})
			})
		})

		Convey("When stopping the iteration early", func() {
			n := 0
			for range motion.CellDiffs(p, q, nil) {
				n++
				if n == 3 {
					break
				}
			}
			So(n, ShouldEqual, 3)
		})
	})
}

func TestScan(t *testing.T) {
	Convey("Given frame sources", t, func() {
		ctx := context.Background()

		Convey("When the source holds one frame", func() {
			src, err := framesource.Constant(8, 8, 1, func(int) float32 { return 50 })
			So(err, ShouldBeNil)
			res, err := motion.Scan(ctx, src, 8, 8)

			Convey("Then its score should be zero", func() {
				So(err, ShouldBeNil)
				So(res.FrameCount, ShouldEqual, 1)
				So(res.Scores, ShouldResemble, []float64{0})
			})
		})

		Convey("When the source is empty", func() {
			src, err := framesource.NewMemory(8, 8)
			So(err, ShouldBeNil)
			res, err := motion.Scan(ctx, src, 8, 8)

			Convey("Then no scores should be produced", func() {
				So(err, ShouldBeNil)
				So(res.FrameCount, ShouldEqual, 0)
				So(res.Scores, ShouldBeEmpty)
			})
		})

		Convey("When frames ramp by their index", func() {
			src, err := framesource.Constant(6, 4, 5, func(k int) float32 { return float32(3 * k) })
			So(err, ShouldBeNil)
			var lines []string
			res, err := motion.Scan(ctx, src, 6, 4, motion.WithCellDiffs(func(index int, diffs iter.Seq2[int, float32]) error {
				n := 0
				for range diffs {
					n++
				}
				lines = append(lines, fmt.Sprintf("%d:%d", index, n))
				return nil
			}))

			Convey("Then each score should be the step between frames", func() {
				So(err, ShouldBeNil)
				So(res.FrameCount, ShouldEqual, 5)
				So(res.Scores, ShouldResemble, []float64{0, 3, 3, 3, 3})
			})

			Convey("And diagnostics should be emitted once per frame pair", func() {
				So(lines, ShouldResemble, []string{"1:24", "2:24", "3:24", "4:24"})
			})
		})

		Convey("When cell differences are restricted to cells", func() {
			src, err := framesource.Constant(4, 4, 2, func(k int) float32 { return float32(4 * k) })
			So(err, ShouldBeNil)
			var got []int
			res, err := motion.Scan(ctx, src, 4, 4,
				motion.WithDiffCells([]int{0, 1}),
				motion.WithCellDiffs(func(_ int, diffs iter.Seq2[int, float32]) error {
					for c := range diffs {
						got = append(got, c)
					}
					return nil
				}),
			)

			Convey("Then only those cells should be reported", func() {
				So(err, ShouldBeNil)
				So(got, ShouldResemble, []int{0, 1})
			})

			Convey("And the score should still cover the full plane", func() {
				So(res.Scores[1], ShouldEqual, 4)
			})
		})

		Convey("When the source fails mid-stream", func() {
			mem, err := framesource.Constant(4, 4, 3, func(int) float32 { return 0 })
			So(err, ShouldBeNil)
			boom := errors.New("decoder crashed")
			reads := 0
			src := frame.SourceFunc(func(ctx context.Context, dst, tmp *frame.Plane, off int) error {
				reads++
				if reads == 2 {
					return boom
				}
				return mem.ReadFrame(ctx, dst, tmp, off)
			})
			res, err := motion.Scan(ctx, src, 4, 4)

			Convey("Then the scan should abort with ErrIO and no partial result", func() {
				So(errors.Is(err, frame.ErrIO), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
				So(res.Scores, ShouldBeNil)
				So(res.FrameCount, ShouldEqual, 0)
			})
		})

		Convey("When the diagnostic consumer fails", func() {
			src, err := framesource.Constant(4, 4, 3, func(k int) float32 { return float32(k) })
			So(err, ShouldBeNil)
			_, err = motion.Scan(ctx, src, 4, 4, motion.WithCellDiffs(func(int, iter.Seq2[int, float32]) error {
				return errors.New("pipe closed")
			}))

			Convey("Then the scan should abort", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the plane budget is too small", func() {
			src, err := framesource.Constant(64, 64, 2, func(int) float32 { return 0 })
			So(err, ShouldBeNil)
			_, err = motion.Scan(ctx, src, 64, 64, motion.WithScanBudget(64*64*4*3))

			Convey("Then it should fail with ErrOutOfMemory before reading", func() {
				So(errors.Is(err, frame.ErrOutOfMemory), ShouldBeTrue)
				So(src.Reads(), ShouldEqual, 0)
			})
		})

		Convey("When the dimensions are zero", func() {
			src, err := framesource.NewMemory(1, 1)
			So(err, ShouldBeNil)
			_, err = motion.Scan(ctx, src, 0, 0)

			Convey("Then it should fail with ErrInvalidDimensions", func() {
				So(errors.Is(err, frame.ErrInvalidDimensions), ShouldBeTrue)
			})
		})
	})
}

func TestCells(t *testing.T) {
	Convey("Given motion cell lists", t, func() {
		Convey("When parsing a well-formed line", func() {
			cells, err := motion.ParseCells(strings.NewReader("5, 0,3,\nignored,line\n"), 4, 4)

			Convey("Then file order should be preserved", func() {
				So(err, ShouldBeNil)
				So(cells, ShouldResemble, []int{5, 0, 3})
			})
		})

		Convey("When a token is not a number", func() {
			_, err := motion.ParseCells(strings.NewReader("1,x,2"), 4, 4)
			So(errors.Is(err, motion.ErrInvalidCells), ShouldBeTrue)
		})

		Convey("When a cell is out of range", func() {
			_, err := motion.ParseCells(strings.NewReader("1,16"), 4, 4)
			So(errors.Is(err, motion.ErrInvalidCells), ShouldBeTrue)
		})

		Convey("When the line is empty", func() {
			_, err := motion.ParseCells(strings.NewReader("\n"), 4, 4)
			So(errors.Is(err, motion.ErrInvalidCells), ShouldBeTrue)
		})

		Convey("When loading files", func() {
			var buf bytes.Buffer
			So(logger.InitWithFormat(logger.FormatText, &buf), ShouldBeNil)
			log := logger.Get()
			ctx := context.Background()
			dir := t.TempDir()

			good := filepath.Join(dir, "cells.csv")
			So(os.WriteFile(good, []byte("2,3\n"), 0o600), ShouldBeNil)
			bad := filepath.Join(dir, "bad.csv")
			So(os.WriteFile(bad, []byte("a,b\n"), 0o600), ShouldBeNil)

			Convey("Then a good file should be loaded", func() {
				So(motion.LoadCells(ctx, log, good, 2, 2), ShouldResemble, []int{2, 3})
			})

			Convey("Then a missing file should degrade with a warning", func() {
				So(motion.LoadCells(ctx, log, filepath.Join(dir, "missing.csv"), 2, 2), ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, "comparing full planes")
			})

			Convey("Then a malformed file should degrade with a warning", func() {
				So(motion.LoadCells(ctx, log, bad, 2, 2), ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, "ignored")
			})

			Convey("Then an empty path should mean no restriction", func() {
				So(motion.LoadCells(ctx, log, "", 2, 2), ShouldBeNil)
			})
		})
	})
}

package simulate

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseRates(t *testing.T) {
	Convey("Given rate flag parsing", t, func() {
		Convey("When parsing a valid pair list", func() {
			rates, err := ParseRates("control=0.5, treatment=0.3")

			Convey("Then ids map to their rates", func() {
				So(err, ShouldBeNil)
				So(rates, ShouldResemble, map[string]float64{
					"control":   0.5,
					"treatment": 0.3,
				})
			})
		})

		Convey("When the input is empty", func() {
			rates, err := ParseRates("")
			So(err, ShouldBeNil)
			So(rates, ShouldBeEmpty)
		})

		Convey("When a pair has no rate", func() {
			_, err := ParseRates("control")
			So(err, ShouldNotBeNil)
		})

		Convey("When a rate is not numeric", func() {
			_, err := ParseRates("control=high")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestVariantsFromWeights(t *testing.T) {
	Convey("Given a weight map", t, func() {
		weights := map[string]float64{"b": 0.3, "a": 0.5, "c": 0.2}

		Convey("When building the variant list", func() {
			variants := variantsFromWeights(weights)

			Convey("Then ids come back sorted with their weights", func() {
				So(variants, ShouldHaveLength, 3)
				So(variants[0].ID, ShouldEqual, "a")
				So(variants[1].ID, ShouldEqual, "b")
				So(variants[2].ID, ShouldEqual, "c")
				So(variants[0].Weight, ShouldEqual, 0.5)
			})

			Convey("And rebuilding yields the same order", func() {
				again := variantsFromWeights(weights)
				So(again, ShouldResemble, variants)
			})
		})
	})
}

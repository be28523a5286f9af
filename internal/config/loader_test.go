package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadDefaults(t *testing.T) {
	Convey("Given no file or env overrides", t, func() {
		ctx := context.Background()

		Convey("When loading", func() {
			cfg, err := Load(ctx)

			Convey("Then defaults come through", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9080")
				So(cfg.TrackEndpoint, ShouldEqual, "/events")
			})
		})
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	Convey("Given environment overrides", t, func() {
		ctx := context.Background()
		t.Setenv("SPLITLAB_ADDR", ":7070")
		t.Setenv("SPLITLAB_LOG_LEVEL", "debug")
		t.Setenv("SPLITLAB_MAX_VARIANTS", "4")

		Convey("When loading", func() {
			cfg, err := Load(ctx)

			Convey("Then env values win over defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":7070")
				So(cfg.LogLevel, ShouldEqual, "debug")
				So(cfg.MaxVariants, ShouldEqual, 4)
			})
		})
	})
}

func TestLoadFile(t *testing.T) {
	Convey("Given a YAML config file", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		path := filepath.Join(dir, "splitlab.yaml")
		yaml := "addr: \":6060\"\nbase_url: \"https://ab.example\"\nshard_count: 4\n"
		So(os.WriteFile(path, []byte(yaml), 0o600), ShouldBeNil)
		t.Setenv("SPLITLAB_CONFIG", path)

		Convey("When loading", func() {
			cfg, err := Load(ctx)

			Convey("Then file values layer over defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":6060")
				So(cfg.BaseURL, ShouldEqual, "https://ab.example")
				So(cfg.ShardCount, ShouldEqual, 4)
				// Untouched keys keep defaults.
				So(cfg.TrackEndpoint, ShouldEqual, "/events")
			})
		})

		Convey("When env overrides the file", func() {
			t.Setenv("SPLITLAB_ADDR", ":5050")
			cfg, err := Load(ctx)

			Convey("Then env has the highest precedence", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":5050")
			})
		})
	})
}

func TestLoadInvalid(t *testing.T) {
	Convey("Given an invalid override", t, func() {
		ctx := context.Background()
		t.Setenv("SPLITLAB_ADDR", "")

		Convey("When loading", func() {
			_, err := Load(ctx)

			Convey("Then validation fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	repository "github.com/splitlab/splitlab/internal/adapters/repository"
	"github.com/splitlab/splitlab/internal/domain/model"
	"github.com/splitlab/splitlab/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func startedService(t *testing.T, opts ...Option) (*Service, *repository.MemStore) {
	t.Helper()
	store := repository.NewMemStore(context.Background())
	svc := New(append([]Option{
		WithStore(store),
		WithWorkerCount(2),
		WithQueueSize(1024),
	}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	t.Cleanup(svc.Stop)
	return svc, store
}

// seedEvents writes events straight to the store so tests do not have to
// wait for the async ingestion pipeline.
func seedEvents(ctx context.Context, store *repository.MemStore, expID, variantID string, visits, conversions int) {
	for i := 0; i < visits; i++ {
		So(store.AppendEvent(ctx, model.Event{
			ExperimentID: expID,
			VariantID:    variantID,
			Type:         model.EventVisit,
			Timestamp:    time.Now(),
		}), ShouldBeNil)
	}
	for i := 0; i < conversions; i++ {
		So(store.AppendEvent(ctx, model.Event{
			ExperimentID: expID,
			VariantID:    variantID,
			Type:         model.EventConversion,
			Timestamp:    time.Now(),
		}), ShouldBeNil)
	}
}

func twoVariantConfig() CreateConfig {
	return CreateConfig{
		SubjectID: "landing-page",
		Variants: []VariantConfig{
			{ID: "control", Weight: 0.5, URL: "https://cdn.example/control"},
			{ID: "treatment", Weight: 0.5, URL: "https://cdn.example/treatment"},
		},
	}
}

func TestCreateExperiment(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, _ := startedService(t, WithBaseURL("https://ab.example"))

		Convey("When creating a valid experiment", func() {
			res, err := svc.CreateExperiment(ctx, twoVariantConfig())

			Convey("Then it is active with generated id and defaults", func() {
				So(err, ShouldBeNil)
				So(res.Experiment.ID, ShouldNotBeEmpty)
				So(res.Experiment.Status, ShouldEqual, model.StatusActive)
				So(res.Experiment.DurationDays, ShouldEqual, defaultDurationDays)
				So(res.Experiment.Metrics, ShouldResemble, []string{"conversion"})
			})

			Convey("Then the snippet and dashboard link reference it", func() {
				So(err, ShouldBeNil)
				So(res.TrackingSnippet, ShouldContainSubstring, res.Experiment.ID)
				So(res.TrackingSnippet, ShouldContainSubstring, "https://ab.example/events")
				So(res.DashboardURL, ShouldEqual,
					"https://ab.example/dashboard?experiment="+res.Experiment.ID)
			})
		})

		Convey("When the configuration is invalid", func() {
			cases := map[string]CreateConfig{
				"empty subject": {
					SubjectID: "",
					Variants:  twoVariantConfig().Variants,
				},
				"no variants": {
					SubjectID: "s",
				},
				"duplicate variant ids": {
					SubjectID: "s",
					Variants: []VariantConfig{
						{ID: "a", Weight: 0.5},
						{ID: "a", Weight: 0.5},
					},
				},
				"zero weight": {
					SubjectID: "s",
					Variants: []VariantConfig{
						{ID: "a", Weight: 0},
						{ID: "b", Weight: 1},
					},
				},
				"weight above one": {
					SubjectID: "s",
					Variants: []VariantConfig{
						{ID: "a", Weight: 1.5},
					},
				},
				"negative duration": {
					SubjectID:    "s",
					Variants:     twoVariantConfig().Variants,
					DurationDays: -1,
				},
			}

			for name, cfg := range cases {
				Convey("Then "+name+" is rejected", func() {
					_, err := svc.CreateExperiment(ctx, cfg)
					So(err, ShouldWrap, ErrValidation)
				})
			}
		})

		Convey("When too many variants are declared", func() {
			cfg := CreateConfig{SubjectID: "s"}
			for _, id := range []string{"a", "b", "c"} {
				cfg.Variants = append(cfg.Variants, VariantConfig{ID: id, Weight: 0.3})
			}
			small := New(WithMaxVariants(2))
			So(small.Start(ctx), ShouldBeNil)
			defer small.Stop()

			_, err := small.CreateExperiment(ctx, cfg)
			So(err, ShouldWrap, ErrValidation)
		})
	})
}

func TestRecordEvent(t *testing.T) {
	Convey("Given a started service with one experiment", t, func() {
		ctx := context.Background()
		svc, _ := startedService(t)
		res, err := svc.CreateExperiment(ctx, twoVariantConfig())
		So(err, ShouldBeNil)
		expID := res.Experiment.ID

		Convey("When recording a valid visit", func() {
			err := svc.RecordEvent(ctx, model.Event{
				ExperimentID: expID,
				VariantID:    "control",
				Type:         model.EventVisit,
			})

			Convey("Then it is accepted and eventually counted", func() {
				So(err, ShouldBeNil)
				So(func() bool {
					results, rerr := svc.Results(ctx, expID)
					return rerr == nil && results[0].Visitors == 1
				}, shouldBecomeTrue)
			})
		})

		Convey("When the experiment is unknown", func() {
			err := svc.RecordEvent(ctx, model.Event{
				ExperimentID: "nope",
				VariantID:    "control",
				Type:         model.EventVisit,
			})
			So(err, ShouldWrap, ErrNotFound)
		})

		Convey("When the variant is unknown", func() {
			err := svc.RecordEvent(ctx, model.Event{
				ExperimentID: expID,
				VariantID:    "mystery",
				Type:         model.EventVisit,
			})
			So(err, ShouldWrap, ErrUnknownVariant)
		})

		Convey("When the event type is unknown", func() {
			err := svc.RecordEvent(ctx, model.Event{
				ExperimentID: expID,
				VariantID:    "control",
				Type:         model.EventType("click"),
			})
			So(err, ShouldWrap, ErrValidation)
		})
	})
}

// shouldBecomeTrue polls a condition, failing if it does not hold in time.
func shouldBecomeTrue(actual interface{}, _ ...interface{}) string {
	cond, ok := actual.(func() bool)
	if !ok {
		return "expected a func() bool"
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return ""
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "condition never became true"
}

func TestResults(t *testing.T) {
	Convey("Given an experiment with seeded events", t, func() {
		ctx := context.Background()
		svc, store := startedService(t)
		res, err := svc.CreateExperiment(ctx, twoVariantConfig())
		So(err, ShouldBeNil)
		expID := res.Experiment.ID

		Convey("When both variants have moderate traffic", func() {
			seedEvents(ctx, store, expID, "control", 150, 15)
			seedEvents(ctx, store, expID, "treatment", 150, 30)

			results, err := svc.Results(ctx, expID)

			Convey("Then rows come back in declared order with correct rates", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 2)
				So(results[0].VariantID, ShouldEqual, "control")
				So(results[1].VariantID, ShouldEqual, "treatment")
				So(results[0].ConversionRate, ShouldAlmostEqual, 0.10, 1e-9)
				So(results[1].ConversionRate, ShouldAlmostEqual, 0.20, 1e-9)
			})

			Convey("Then confidence below threshold yields no winner", func() {
				So(err, ShouldBeNil)
				So(results[1].Confidence, ShouldBeLessThan, 95)
				So(results[0].IsWinner, ShouldBeFalse)
				So(results[1].IsWinner, ShouldBeFalse)
			})
		})

		Convey("When the experiment id is unknown", func() {
			_, err := svc.Results(ctx, "missing")
			So(err, ShouldWrap, ErrNotFound)
		})
	})
}

func TestEnd(t *testing.T) {
	Convey("Given an experiment with a decisive lead", t, func() {
		ctx := context.Background()
		svc, store := startedService(t)
		res, err := svc.CreateExperiment(ctx, twoVariantConfig())
		So(err, ShouldBeNil)
		expID := res.Experiment.ID

		seedEvents(ctx, store, expID, "control", 1000, 100)
		seedEvents(ctx, store, expID, "treatment", 1000, 200)

		Convey("When ending it", func() {
			outcome, err := svc.End(ctx, expID)

			Convey("Then the treatment wins and the record is completed", func() {
				So(err, ShouldBeNil)
				So(outcome.Winner, ShouldEqual, "treatment")

				stored, gerr := store.GetExperiment(ctx, expID)
				So(gerr, ShouldBeNil)
				So(stored.Status, ShouldEqual, model.StatusCompleted)
				So(stored.Winner, ShouldEqual, "treatment")
				So(stored.EndedAt.IsZero(), ShouldBeFalse)
			})

			Convey("Then a second end is rejected and keeps the first winner", func() {
				So(err, ShouldBeNil)
				_, again := svc.End(ctx, expID)
				So(again, ShouldWrap, ErrAlreadyEnded)

				stored, gerr := store.GetExperiment(ctx, expID)
				So(gerr, ShouldBeNil)
				So(stored.Winner, ShouldEqual, "treatment")
			})

			Convey("Then new events are no longer accepted", func() {
				So(err, ShouldBeNil)
				rerr := svc.RecordEvent(ctx, model.Event{
					ExperimentID: expID,
					VariantID:    "control",
					Type:         model.EventVisit,
				})
				So(rerr, ShouldWrap, ErrNotFound)
			})

			Convey("Then historical results stay readable", func() {
				So(err, ShouldBeNil)
				results, rerr := svc.Results(ctx, expID)
				So(rerr, ShouldBeNil)
				So(results[1].IsWinner, ShouldBeTrue)
			})
		})

		Convey("When ending an unknown experiment", func() {
			_, err := svc.End(ctx, "missing")
			So(err, ShouldWrap, ErrNotFound)
		})
	})
}

func TestSnippet(t *testing.T) {
	Convey("Given a started service with one experiment", t, func() {
		ctx := context.Background()
		svc, _ := startedService(t, WithBaseURL("https://ab.example"), WithTrackEndpoint("/track"))
		res, err := svc.CreateExperiment(ctx, twoVariantConfig())
		So(err, ShouldBeNil)

		Convey("When rendering its snippet", func() {
			snippet, err := svc.Snippet(ctx, res.Experiment.ID)

			Convey("Then it embeds the variants and the endpoint", func() {
				So(err, ShouldBeNil)
				So(snippet, ShouldStartWith, "<script>")
				So(strings.TrimSpace(snippet), ShouldEndWith, "</script>")
				So(snippet, ShouldContainSubstring, `"control"`)
				So(snippet, ShouldContainSubstring, `"treatment"`)
				So(snippet, ShouldContainSubstring, "https://ab.example/track")
			})
		})

		Convey("When the experiment is unknown", func() {
			_, err := svc.Snippet(ctx, "missing")
			So(err, ShouldWrap, ErrNotFound)
		})
	})
}

func TestDedupePassthrough(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, _ := startedService(t)

		Convey("When the same event id is recorded twice", func() {
			first := svc.SeenAndRecord(ctx, "evt-1")
			second := svc.SeenAndRecord(ctx, "evt-1")

			Convey("Then only the second is a duplicate", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(svc.Size(), ShouldEqual, 1)
			})

			Convey("And unrecording allows a retry", func() {
				svc.Unrecord(ctx, "evt-1")
				So(svc.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
			})
		})
	})
}

func TestGetStats(t *testing.T) {
	Convey("Given a started service with one experiment", t, func() {
		ctx := context.Background()
		svc, _ := startedService(t)
		_, err := svc.CreateExperiment(ctx, twoVariantConfig())
		So(err, ShouldBeNil)

		Convey("When reading service stats", func() {
			stats := svc.GetStats()

			Convey("Then counters reflect the live state", func() {
				So(stats["started"], ShouldBeTrue)
				So(stats["activeExperiments"], ShouldEqual, 1)
				So(stats["totalExperiments"], ShouldEqual, 1)
			})
		})
	})
}

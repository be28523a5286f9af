package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/splitlab/splitlab/internal/app"
	"github.com/splitlab/splitlab/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.New(
		service.WithWorkerCount(2),
		service.WithQueueSize(1024),
		service.WithBaseURL("http://ab.test"),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)

	mux := http.NewServeMux()
	NewServer(svc, svc).Register(context.Background(), mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(ts *httptest.Server, path, body string) (*http.Response, string) {
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	So(err, ShouldBeNil)
	return resp, string(b)
}

func getBody(ts *httptest.Server, path string) (*http.Response, string) {
	resp, err := http.Get(ts.URL + path)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	So(err, ShouldBeNil)
	return resp, string(b)
}

const validExperiment = `{
	"subject_id": "pricing-page",
	"variants": [
		{"id": "control", "weight": 0.5, "url": "https://cdn.test/a"},
		{"id": "treatment", "weight": 0.5, "url": "https://cdn.test/b"}
	],
	"metrics": ["signup"],
	"duration_days": 7
}`

func createExperiment(ts *httptest.Server) string {
	resp, body := postJSON(ts, "/experiments", validExperiment)
	So(resp.StatusCode, ShouldEqual, http.StatusCreated)
	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	So(json.Unmarshal([]byte(body), &created), ShouldBeNil)
	So(created.ExperimentID, ShouldNotBeEmpty)
	return created.ExperimentID
}

func TestCreateExperimentEndpoint(t *testing.T) {
	Convey("Given the API server", t, func() {
		ts := newTestServer(t)

		Convey("When posting a valid experiment", func() {
			resp, body := postJSON(ts, "/experiments", validExperiment)

			Convey("Then it is created with snippet and dashboard link", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(body, ShouldContainSubstring, `"tracking_snippet"`)
				So(body, ShouldContainSubstring, "http://ab.test/dashboard?experiment=")
				So(body, ShouldContainSubstring, `"status":"active"`)
				So(body, ShouldContainSubstring, `"signup"`)
			})
		})

		Convey("When posting malformed JSON", func() {
			resp, _ := postJSON(ts, "/experiments", "{not json")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When posting an invalid configuration", func() {
			resp, body := postJSON(ts, "/experiments", `{"subject_id":"s","variants":[]}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			So(body, ShouldContainSubstring, "bad_request")
		})

		Convey("When using the wrong method", func() {
			resp, _ := getBody(ts, "/experiments")
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestEventsEndpoint(t *testing.T) {
	Convey("Given the API server with one experiment", t, func() {
		ts := newTestServer(t)
		expID := createExperiment(ts)

		Convey("When posting a valid visit event", func() {
			resp, body := postJSON(ts, "/events",
				fmt.Sprintf(`{"experiment_id":%q,"variant_id":"control","type":"visit"}`, expID))

			Convey("Then it is accepted", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(body, ShouldContainSubstring, `"status":"accepted"`)
			})

			Convey("Then it eventually shows up in results", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(func() bool {
					_, rbody := getBody(ts, "/experiments/"+expID+"/results")
					return strings.Contains(rbody, `"visitors":1`)
				}, shouldBecomeTrue)
			})
		})

		Convey("When replaying the same event id", func() {
			payload := fmt.Sprintf(`{"event_id":"evt-1","experiment_id":%q,"variant_id":"control","type":"conversion"}`, expID)
			first, _ := postJSON(ts, "/events", payload)
			second, body := postJSON(ts, "/events", payload)

			Convey("Then the replay is acknowledged as a duplicate", func() {
				So(first.StatusCode, ShouldEqual, http.StatusAccepted)
				So(second.StatusCode, ShouldEqual, http.StatusOK)
				So(body, ShouldContainSubstring, `"duplicate":true`)
			})
		})

		Convey("When the experiment does not exist", func() {
			resp, body := postJSON(ts, "/events",
				`{"experiment_id":"ghost","variant_id":"control","type":"visit"}`)

			Convey("Then the event is rejected with 404", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
				So(body, ShouldContainSubstring, "not_found")
			})
		})

		Convey("When the variant does not exist", func() {
			resp, _ := postJSON(ts, "/events",
				fmt.Sprintf(`{"experiment_id":%q,"variant_id":"ghost","type":"visit"}`, expID))
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When required fields are missing", func() {
			resp, _ := postJSON(ts, "/events", `{"experiment_id":"x"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the timestamp is not RFC3339", func() {
			resp, _ := postJSON(ts, "/events",
				fmt.Sprintf(`{"experiment_id":%q,"variant_id":"control","type":"visit","ts":"yesterday"}`, expID))
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
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

func TestExperimentSubresources(t *testing.T) {
	Convey("Given the API server with one experiment", t, func() {
		ts := newTestServer(t)
		expID := createExperiment(ts)

		Convey("When fetching the experiment record", func() {
			resp, body := getBody(ts, "/experiments/"+expID)

			Convey("Then the record comes back complete", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body, ShouldContainSubstring, `"subject_id":"pricing-page"`)
				So(body, ShouldContainSubstring, `"duration_days":7`)
			})
		})

		Convey("When fetching results before any traffic", func() {
			resp, body := getBody(ts, "/experiments/"+expID+"/results")

			Convey("Then both variants report zero in declared order", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var parsed resultsResponse
				So(json.Unmarshal([]byte(body), &parsed), ShouldBeNil)
				So(parsed.Results, ShouldHaveLength, 2)
				So(parsed.Results[0].VariantID, ShouldEqual, "control")
				So(parsed.Results[1].VariantID, ShouldEqual, "treatment")
				So(parsed.Results[0].Visitors, ShouldEqual, 0)
			})
		})

		Convey("When fetching the snippet", func() {
			resp, body := getBody(ts, "/experiments/"+expID+"/snippet")

			Convey("Then it contains the embeddable script", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var parsed snippetResponse
				So(json.Unmarshal([]byte(body), &parsed), ShouldBeNil)
				So(parsed.Snippet, ShouldStartWith, "<script>")
				So(parsed.Snippet, ShouldContainSubstring, expID)
			})
		})

		Convey("When ending the experiment", func() {
			resp, body := postJSON(ts, "/experiments/"+expID+"/end", "")

			Convey("Then it completes without a winner on no data", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body, ShouldContainSubstring, `"status":"completed"`)
				So(body, ShouldNotContainSubstring, `"winner":"control"`)
			})

			Convey("Then a second end conflicts", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				again, abody := postJSON(ts, "/experiments/"+expID+"/end", "")
				So(again.StatusCode, ShouldEqual, http.StatusConflict)
				So(abody, ShouldContainSubstring, "already_ended")
			})

			Convey("Then new events are rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				eresp, _ := postJSON(ts, "/events",
					fmt.Sprintf(`{"experiment_id":%q,"variant_id":"control","type":"visit"}`, expID))
				So(eresp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the experiment id is unknown", func() {
			resp, _ := getBody(ts, "/experiments/ghost/results")
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the sub-path is unknown", func() {
			resp, _ := getBody(ts, "/experiments/"+expID+"/bogus")
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API server", t, func() {
		ts := newTestServer(t)

		Convey("When fetching stats", func() {
			resp, body := getBody(ts, "/stats")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, `"started":true`)
		})

		Convey("When fetching health metrics", func() {
			resp, body := getBody(ts, "/healthz")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "splitlab")
		})

		Convey("When fetching the dashboard", func() {
			resp, body := getBody(ts, "/dashboard")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "<title>SplitLab")
		})
	})
}
